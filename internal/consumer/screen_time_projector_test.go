package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/carwash/activity/internal/events"
)

type projection struct {
	tenantID, activityID, path string
	day                        time.Time
	views, durationMs          int64
}

type stubProjectionStore struct {
	err     error
	seen    map[string]bool
	applied []projection
}

func (s *stubProjectionStore) apply(p projection) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[p.activityID] {
		return false, nil
	}
	s.seen[p.activityID] = true
	s.applied = append(s.applied, p)
	return true, nil
}

func (s *stubProjectionStore) AddPageView(_ context.Context, tenantID, activityID, path string, occurredAt time.Time) (bool, error) {
	return s.apply(projection{tenantID: tenantID, activityID: activityID, path: path, day: occurredAt, views: 1})
}

func (s *stubProjectionStore) AddScreenTime(_ context.Context, tenantID, activityID, path string, occurredAt time.Time, durationMs int64) (bool, error) {
	return s.apply(projection{tenantID: tenantID, activityID: activityID, path: path, day: occurredAt, durationMs: durationMs})
}

func recordedMessage(t *testing.T, event events.ActivityRecorded) Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return Message{
		Topic:     events.ActivityTopic,
		EventType: events.ActivityRecordedType,
		TenantID:  event.TenantID,
		Payload:   payload,
	}
}

func TestScreenTimeProjectorFoldsViewsAndDwell(t *testing.T) {
	store := &stubProjectionStore{}
	projector := NewScreenTimeProjector(store, testLogger(t))
	at := time.Date(2025, 10, 27, 20, 0, 0, 0, time.UTC)
	dwell := int64(4200)

	ctx := context.Background()
	require.NoError(t, projector.Handle(ctx, recordedMessage(t, events.ActivityRecorded{
		ActivityID: "a-1", TenantID: "tenant-1", ActivityType: "page_view", PagePath: "/dashboard", OccurredAt: at,
	})))
	require.NoError(t, projector.Handle(ctx, recordedMessage(t, events.ActivityRecorded{
		ActivityID: "a-2", TenantID: "tenant-1", ActivityType: "screen_time", PagePath: "/dashboard", DurationMs: &dwell, OccurredAt: at,
	})))
	// Redelivery is absorbed by the store.
	require.NoError(t, projector.Handle(ctx, recordedMessage(t, events.ActivityRecorded{
		ActivityID: "a-2", TenantID: "tenant-1", ActivityType: "screen_time", PagePath: "/dashboard", DurationMs: &dwell, OccurredAt: at,
	})))

	require.Equal(t, []projection{
		{tenantID: "tenant-1", activityID: "a-1", path: "/dashboard", day: at, views: 1},
		{tenantID: "tenant-1", activityID: "a-2", path: "/dashboard", day: at, durationMs: 4200},
	}, store.applied)
}

func TestScreenTimeProjectorIgnoresIrrelevantEvents(t *testing.T) {
	store := &stubProjectionStore{}
	projector := NewScreenTimeProjector(store, nil)
	negative := int64(-5)
	ctx := context.Background()

	cases := []Message{
		{EventType: "activity.deleted", TenantID: "tenant-1", Payload: []byte(`{}`)},
		{EventType: events.ActivityRecordedType, TenantID: "tenant-1", Payload: []byte(`not json`)},
		recordedMessage(t, events.ActivityRecorded{ActivityID: "a-1", TenantID: "tenant-1", ActivityType: "button_click", PagePath: "/dashboard"}),
		recordedMessage(t, events.ActivityRecorded{ActivityID: "a-2", TenantID: "tenant-1", ActivityType: "page_view"}),
		recordedMessage(t, events.ActivityRecorded{ActivityID: "a-3", TenantID: "tenant-1", ActivityType: "screen_time", PagePath: "/x", DurationMs: &negative}),
		recordedMessage(t, events.ActivityRecorded{ActivityID: "a-4", TenantID: "tenant-1", ActivityType: "screen_time", PagePath: "/x"}),
	}
	mismatched := recordedMessage(t, events.ActivityRecorded{ActivityID: "a-5", TenantID: "tenant-1", ActivityType: "page_view", PagePath: "/x"})
	mismatched.TenantID = "tenant-2"
	cases = append(cases, mismatched)

	for _, msg := range cases {
		require.NoError(t, projector.Handle(ctx, msg))
	}
	require.Empty(t, store.applied)
}

func TestScreenTimeProjectorSurfacesStoreErrors(t *testing.T) {
	store := &stubProjectionStore{err: errors.New("db down")}
	projector := NewScreenTimeProjector(store, nil)

	err := projector.Handle(context.Background(), recordedMessage(t, events.ActivityRecorded{
		ActivityID: "a-1", TenantID: "tenant-1", ActivityType: "page_view", PagePath: "/dashboard",
	}))
	require.ErrorContains(t, err, "db down")
}
