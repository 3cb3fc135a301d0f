package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/carwash/activity/internal/device"
)

func int64Ptr(v int64) *int64 { return &v }

func validActivity(kind ActivityType) Activity {
	a := Activity{
		SessionID:    "1700000000000-abc",
		ActivityType: kind,
		Timestamp:    "2025-10-27T20:00:00.000Z",
		Device:       device.Info{UserAgent: "agent", Browser: device.BrowserChrome},
	}
	switch kind {
	case ActivityPageView:
		a.Page = &Page{Path: "/dashboard", Title: "Dashboard"}
	case ActivityScreenTime:
		a.Page = &Page{Path: "/dashboard", Title: "Dashboard"}
		a.Duration = int64Ptr(1500)
	case ActivityScroll:
		a.Scroll = &Scroll{Depth: 40, MaxDepth: 60}
	}
	return a
}

func TestActivityValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Activity)
		kind      ActivityType
		wantError bool
	}{
		{name: "valid click", kind: ActivityButtonClick},
		{name: "valid screen time", kind: ActivityScreenTime},
		{name: "valid scroll", kind: ActivityScroll},
		{name: "missing session", kind: ActivityLogin, mutate: func(a *Activity) { a.SessionID = " " }, wantError: true},
		{name: "unknown type", kind: ActivityLogin, mutate: func(a *Activity) { a.ActivityType = "hover" }, wantError: true},
		{name: "bad timestamp", kind: ActivityLogin, mutate: func(a *Activity) { a.Timestamp = "yesterday" }, wantError: true},
		{name: "screen time without duration", kind: ActivityScreenTime, mutate: func(a *Activity) { a.Duration = nil }, wantError: true},
		{name: "screen time negative duration", kind: ActivityScreenTime, mutate: func(a *Activity) { a.Duration = int64Ptr(-1) }, wantError: true},
		{name: "page view without page", kind: ActivityPageView, mutate: func(a *Activity) { a.Page = nil }, wantError: true},
		{name: "scroll without block", kind: ActivityScroll, mutate: func(a *Activity) { a.Scroll = nil }, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validActivity(tt.kind)
			if tt.mutate != nil {
				tt.mutate(&a)
			}
			err := a.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestActivityCloneIsIndependent(t *testing.T) {
	original := validActivity(ActivityScreenTime)
	original.Metadata = map[string]any{"k": "v"}

	clone := original.Clone()
	clone.Page.Path = "/other"
	*clone.Duration = 1
	clone.Metadata["k"] = "changed"

	require.Equal(t, "/dashboard", original.Page.Path)
	require.EqualValues(t, 1500, *original.Duration)
	require.Equal(t, "v", original.Metadata["k"])
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, time.October, 27, 22, 5, 1, 123456789, time.FixedZone("X", 2*3600))
	require.Equal(t, "2025-10-27T20:05:01.123Z", FormatTimestamp(ts))
}

func TestIngestBatchStoresAll(t *testing.T) {
	repo := &memoryRepo{}
	service := NewService(repo)
	service.now = func() time.Time { return time.Date(2025, 10, 27, 21, 0, 0, 0, time.UTC) }

	activities := []Activity{validActivity(ActivityLogin), validActivity(ActivityPageView)}
	activities[1].Device = device.Info{}

	n, err := service.IngestBatch(context.Background(), IngestInput{
		TenantID:   "tenant-1",
		UserID:     "admin-1",
		UserAgent:  "Mozilla/5.0 Firefox/127.0",
		Activities: activities,
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, repo.inserted, 2)

	stored := repo.inserted[1]
	require.NotEmpty(t, stored.ID)
	require.Equal(t, "tenant-1", stored.TenantID)
	require.Equal(t, "admin-1", stored.UserID)
	require.Equal(t, device.BrowserFirefox, stored.Device.Browser, "device enriched from request user agent")
	require.Equal(t, time.Date(2025, 10, 27, 20, 0, 0, 0, time.UTC), stored.OccurredAt)
	require.Equal(t, time.Date(2025, 10, 27, 21, 0, 0, 0, time.UTC), stored.ReceivedAt)
	require.Equal(t, ActivityLogin, repo.inserted[0].ActivityType, "order preserved")
}

func TestIngestBatchRejectsWholeBatch(t *testing.T) {
	repo := &memoryRepo{}
	service := NewService(repo)

	bad := validActivity(ActivityLogin)
	bad.ActivityType = "unknown"

	_, err := service.IngestBatch(context.Background(), IngestInput{
		TenantID:   "tenant-1",
		Activities: []Activity{validActivity(ActivityLogin), bad},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "activity 1")
	require.Empty(t, repo.inserted)
}

func TestIngestBatchSizeLimits(t *testing.T) {
	service := NewService(&memoryRepo{})

	_, err := service.IngestBatch(context.Background(), IngestInput{TenantID: "t"})
	require.ErrorIs(t, err, ErrValidation)

	tooMany := make([]Activity, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = validActivity(ActivityButtonClick)
	}
	_, err = service.IngestBatch(context.Background(), IngestInput{TenantID: "t", Activities: tooMany})
	require.ErrorIs(t, err, ErrValidation)
}

func TestIngestBatchWrapsRepositoryError(t *testing.T) {
	service := NewService(&memoryRepo{err: errors.New("disk full")})

	_, err := service.IngestBatch(context.Background(), IngestInput{
		TenantID:   "t",
		Activities: []Activity{validActivity(ActivityLogin)},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "disk full")
}

func TestSessionSummary(t *testing.T) {
	base := time.Date(2025, 10, 27, 20, 0, 0, 0, time.UTC)
	record := func(kind ActivityType, offset time.Duration, page *Page, duration *int64) StoredActivity {
		return StoredActivity{
			Activity:   Activity{SessionID: "s-1", ActivityType: kind, Page: page, Duration: duration},
			UserID:     "admin-1",
			OccurredAt: base.Add(offset),
		}
	}
	dashboard := &Page{Path: "/dashboard", Title: "Dashboard"}
	staff := &Page{Path: "/staff", Title: "Staff"}

	repo := &memoryRepo{session: []StoredActivity{
		record(ActivityLogin, 0, nil, nil),
		record(ActivityPageView, time.Second, dashboard, nil),
		record(ActivityScreenTime, 10*time.Second, dashboard, int64Ptr(9000)),
		record(ActivityPageView, 10*time.Second, staff, nil),
		record(ActivityScreenTime, 40*time.Second, staff, int64Ptr(30000)),
		record(ActivityLogout, 40*time.Second, nil, nil),
	}}
	service := NewService(repo)

	summary, err := service.SessionSummary(context.Background(), "tenant-1", "s-1")
	require.NoError(t, err)
	require.Equal(t, "admin-1", summary.UserID)
	require.Equal(t, 6, summary.Total)
	require.Equal(t, 2, summary.Counts[ActivityPageView])
	require.EqualValues(t, 39000, summary.ScreenTimeMs)
	require.Equal(t, base, summary.FirstSeen)
	require.Equal(t, base.Add(40*time.Second), summary.LastSeen)
	require.Equal(t, []PageDwell{
		{Path: "/staff", Title: "Staff", Views: 1, ScreenTimeMs: 30000},
		{Path: "/dashboard", Title: "Dashboard", Views: 1, ScreenTimeMs: 9000},
	}, summary.Pages)
}

func TestSessionSummaryNotFound(t *testing.T) {
	service := NewService(&memoryRepo{})

	_, err := service.SessionSummary(context.Background(), "tenant-1", "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = service.SessionSummary(context.Background(), "tenant-1", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestListActivitiesRejectsUnknownType(t *testing.T) {
	service := NewService(&memoryRepo{})
	_, _, err := service.ListActivities(context.Background(), ListFilter{TenantID: "t", Type: "hover"}, nil, 10)
	require.ErrorIs(t, err, ErrValidation)
}

func TestScreenTimeReportRange(t *testing.T) {
	service := NewService(&memoryRepo{})
	day := time.Date(2025, 10, 27, 0, 0, 0, 0, time.UTC)

	_, err := service.ScreenTimeReport(context.Background(), "t", day, day.AddDate(0, 0, -1))
	require.ErrorIs(t, err, ErrValidation)

	_, err = service.ScreenTimeReport(context.Background(), "t", day, day)
	require.NoError(t, err)
}

type memoryRepo struct {
	inserted []StoredActivity
	session  []StoredActivity
	err      error
}

func (m *memoryRepo) InsertBatch(_ context.Context, _ string, records []StoredActivity) error {
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, records...)
	return nil
}

func (m *memoryRepo) List(context.Context, ListFilter, *Cursor, int) ([]StoredActivity, *Cursor, error) {
	return m.inserted, nil, m.err
}

func (m *memoryRepo) ListSession(context.Context, string, string) ([]StoredActivity, error) {
	return m.session, m.err
}

func (m *memoryRepo) ScreenTimeByPage(context.Context, string, time.Time, time.Time) ([]PageScreenTime, error) {
	return nil, m.err
}
