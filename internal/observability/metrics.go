// Package observability exposes the collector's Prometheus watermarks and counters.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_collector",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity batch persisted.",
	})
	activityProjectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_collector",
		Subsystem: "projection",
		Name:      "last_activity_projected_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity folded into the screen-time projection.",
	})
	ingestedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "ingest",
		Name:      "activities_total",
		Help:      "Activities accepted by the collector, labeled by activity type.",
	}, []string{"activity_type"})
	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activity_collector",
		Subsystem: "ingest",
		Name:      "batch_size",
		Help:      "Number of activities per accepted batch.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 200},
	})
	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_collector",
		Subsystem: "ingest",
		Name:      "batches_rejected_total",
		Help:      "Batches rejected by the collector, labeled by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, activityProjectedGauge, ingestedCounter, batchSize, rejectedCounter)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordActivityProjected updates the projection watermark gauge.
func RecordActivityProjected(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityProjectedGauge.Set(float64(ts.Unix()))
}

// RecordBatchIngested counts an accepted batch. types holds one entry per activity.
func RecordBatchIngested(types []string) {
	batchSize.Observe(float64(len(types)))
	for _, t := range types {
		ingestedCounter.WithLabelValues(t).Inc()
	}
}

// RecordBatchRejected counts a rejected batch.
func RecordBatchRejected(reason string) {
	rejectedCounter.WithLabelValues(reason).Inc()
}
