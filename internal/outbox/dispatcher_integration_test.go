//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/carwash/activity/internal/domain"
	"example.com/carwash/activity/internal/events"
	"example.com/carwash/activity/internal/persistence/postgres"
	pgtest "example.com/carwash/activity/internal/testutil"
)

func seedActivities(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID string, n int) {
	t.Helper()
	repo := postgres.NewRepository(pool)
	at := time.Now().UTC()
	records := make([]domain.StoredActivity, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.StoredActivity{
			Activity: domain.Activity{
				SessionID:    "s-1",
				ActivityType: domain.ActivityPageView,
				Timestamp:    domain.FormatTimestamp(at),
				Page:         &domain.Page{Path: "/dashboard"},
			},
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			UserID:     "admin-7",
			OccurredAt: at,
			ReceivedAt: at,
		})
	}
	require.NoError(t, repo.InsertBatch(ctx, tenantID, records))
}

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.StartPostgres(t, ctx)

	tenantID := uuid.NewString()
	seedActivities(t, ctx, pool, tenantID, 2)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, events.ActivityTopic, producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1)

	require.InDelta(t, beforeDelivered+2, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 2, published)

	// Nothing left to claim.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestDispatcherFailureRoundTripsThroughDLQ(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.StartPostgres(t, ctx)

	tenantID := uuid.NewString()
	seedActivities(t, ctx, pool, tenantID, 1)

	registry := &stubRegistry{id: 7}
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("kafka write failed")}, registry, 10*time.Millisecond, 5)

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(events.ActivityTopic))

	require.NoError(t, failing.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues(events.ActivityTopic)), 0.0001)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE tenant_id = $1`, tenantID).Scan(&reason))
	require.Contains(t, reason, "kafka write failed")

	beforeRequeued := testutil.ToFloat64(dlqRequeuedCounter.WithLabelValues(events.ActivityTopic, events.ActivityRecordedType))
	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.InDelta(t, beforeRequeued+1, testutil.ToFloat64(dlqRequeuedCounter.WithLabelValues(events.ActivityTopic, events.ActivityRecordedType)), 0.0001)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))

	producer := &stubProducer{}
	require.NoError(t, NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5).processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.StartPostgres(t, ctx)

	tenantID := uuid.NewString()
	seedActivities(t, ctx, pool, tenantID, 1)
	require.NoError(t, NewDispatcher(pool, &stubProducer{err: errors.New("down")}, &stubRegistry{}, time.Second, 5).processBatch(ctx))

	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 3`)
	require.NoError(t, err)

	processed, err := NewDLQManager(pool, 3, time.Second).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, processed)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)
}

func TestDLQManagerSchedulesRetryWhenRequeueFails(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.StartPostgres(t, ctx)

	tenantID := uuid.NewString()
	seedActivities(t, ctx, pool, tenantID, 1)
	require.NoError(t, NewDispatcher(pool, &stubProducer{err: errors.New("down")}, &stubRegistry{}, time.Second, 5).processBatch(ctx))

	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET schema_subject = ''`)
	require.NoError(t, err)

	processed, err := NewDLQManager(pool, 5, time.Minute).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, processed)

	var retries int
	var due bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT retry_count, next_retry_at > NOW() FROM outbox_dlq`).Scan(&retries, &due))
	require.Equal(t, 1, retries)
	require.True(t, due)
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}
