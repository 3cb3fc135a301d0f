package tracker

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "activities_enqueued_total",
		Help:      "Activities appended to the tracker queue, labeled by activity type.",
	}, []string{"activity_type"})

	batchesSentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "batches_sent_total",
		Help:      "Batches accepted by the collector.",
	})

	batchesFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "batches_failed_total",
		Help:      "Batches that failed to send and were requeued.",
	})

	batchesRejectedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "batches_rejected_total",
		Help:      "Batches the collector refused as invalid. They are not retried.",
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "activities_dropped_total",
		Help:      "Activities discarded because the requeued backlog exceeded its cap or their batch was rejected.",
	})

	invalidCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "activities_invalid_total",
		Help:      "Activities not enqueued because they fail collector validation, labeled by activity type.",
	}, []string{"activity_type"})

	beaconCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "activity_tracker",
		Name:      "beacon_activities_total",
		Help:      "Activities handed to the beacon transport on teardown.",
	})

	queueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_tracker",
		Name:      "queue_length",
		Help:      "Activities waiting in the tracker queue after the last flush.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, batchesSentCounter, batchesFailedCounter, batchesRejectedCounter, droppedCounter, invalidCounter, beaconCounter, queueGauge)
}
