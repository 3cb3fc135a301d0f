// Package domain defines the activity model and the collector's business logic.
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/carwash/activity/internal/device"
)

var (
	// ErrValidation marks a batch that was rejected before anything was stored.
	ErrValidation = errors.New("validation failed")
	// ErrSessionNotFound is returned when no activities exist for a session.
	ErrSessionNotFound = errors.New("session not found")
)

// Cursor models the pagination token for activity listings.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}

// ListFilter narrows an activity listing. TenantID is always required.
type ListFilter struct {
	TenantID  string
	SessionID string
	UserID    string
	Type      ActivityType
}

// PageScreenTime aggregates views and dwell time for one path.
type PageScreenTime struct {
	Path         string
	Views        int64
	ScreenTimeMs int64
}

// ActivityRepository captures persistence operations.
type ActivityRepository interface {
	InsertBatch(ctx context.Context, tenantID string, records []StoredActivity) error
	List(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]StoredActivity, *Cursor, error)
	ListSession(ctx context.Context, tenantID, sessionID string) ([]StoredActivity, error)
	ScreenTimeByPage(ctx context.Context, tenantID string, from, to time.Time) ([]PageScreenTime, error)
}

// Service orchestrates collector workflows.
type Service struct {
	repo ActivityRepository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo ActivityRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// IngestInput captures one collector request.
type IngestInput struct {
	TenantID   string
	UserID     string
	UserAgent  string
	Activities []Activity
}

// IngestBatch validates and stores a batch. Either every activity is stored or none is.
func (s *Service) IngestBatch(ctx context.Context, input IngestInput) (int, error) {
	if len(input.Activities) == 0 {
		return 0, fmt.Errorf("%w: batch is empty", ErrValidation)
	}
	if len(input.Activities) > MaxBatchSize {
		return 0, fmt.Errorf("%w: batch exceeds %d activities", ErrValidation, MaxBatchSize)
	}

	receivedAt := s.now().UTC()
	records := make([]StoredActivity, 0, len(input.Activities))
	for i, activity := range input.Activities {
		if err := activity.Validate(); err != nil {
			return 0, fmt.Errorf("%w: activity %d: %v", ErrValidation, i, err)
		}
		occurredAt, _ := activity.OccurredAt()
		records = append(records, StoredActivity{
			Activity:   enrichDevice(activity.Clone(), input.UserAgent),
			ID:         uuid.NewString(),
			TenantID:   input.TenantID,
			UserID:     input.UserID,
			OccurredAt: occurredAt.UTC(),
			ReceivedAt: receivedAt,
		})
	}

	if err := s.repo.InsertBatch(ctx, input.TenantID, records); err != nil {
		return 0, fmt.Errorf("store batch: %w", err)
	}
	return len(records), nil
}

// enrichDevice fills device fields the client could not report, using the request User-Agent.
func enrichDevice(activity Activity, userAgent string) Activity {
	if activity.Device.UserAgent == "" {
		activity.Device.UserAgent = userAgent
		activity.Device.IsMobile = device.IsMobile(userAgent)
	}
	if activity.Device.Browser == "" {
		activity.Device.Browser = device.ClassifyBrowser(activity.Device.UserAgent)
	}
	return activity
}

// ListActivities fetches activities newest first with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, filter ListFilter, cursor *Cursor, limit int) ([]StoredActivity, *Cursor, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown activity type %q", ErrValidation, filter.Type)
	}
	return s.repo.List(ctx, filter, cursor, limit)
}

// PageDwell is the per-page breakdown inside a SessionSummary.
type PageDwell struct {
	Path         string
	Title        string
	Views        int
	ScreenTimeMs int64
}

// SessionSummary describes one tracker session.
type SessionSummary struct {
	SessionID    string
	UserID       string
	FirstSeen    time.Time
	LastSeen     time.Time
	Total        int
	Counts       map[ActivityType]int
	ScreenTimeMs int64
	Pages        []PageDwell
}

// SessionSummary aggregates every activity recorded for a session.
func (s *Service) SessionSummary(ctx context.Context, tenantID, sessionID string) (*SessionSummary, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	records, err := s.repo.ListSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrSessionNotFound
	}
	summary := Summarize(sessionID, records)
	return &summary, nil
}

// Summarize folds the records of one session. Records may arrive in any order.
func Summarize(sessionID string, records []StoredActivity) SessionSummary {
	summary := SessionSummary{
		SessionID: sessionID,
		Counts:    make(map[ActivityType]int),
	}
	pages := make(map[string]*PageDwell)
	pageFor := func(p *Page) *PageDwell {
		dwell, ok := pages[p.Path]
		if !ok {
			dwell = &PageDwell{Path: p.Path}
			pages[p.Path] = dwell
		}
		if dwell.Title == "" {
			dwell.Title = p.Title
		}
		return dwell
	}

	for _, record := range records {
		summary.Total++
		summary.Counts[record.ActivityType]++
		if summary.UserID == "" {
			summary.UserID = record.UserID
		}
		if summary.FirstSeen.IsZero() || record.OccurredAt.Before(summary.FirstSeen) {
			summary.FirstSeen = record.OccurredAt
		}
		if record.OccurredAt.After(summary.LastSeen) {
			summary.LastSeen = record.OccurredAt
		}
		if record.Page == nil || record.Page.Path == "" {
			continue
		}
		switch record.ActivityType {
		case ActivityPageView:
			pageFor(record.Page).Views++
		case ActivityScreenTime:
			if record.Duration != nil {
				pageFor(record.Page).ScreenTimeMs += *record.Duration
				summary.ScreenTimeMs += *record.Duration
			}
		}
	}

	summary.Pages = make([]PageDwell, 0, len(pages))
	for _, dwell := range pages {
		summary.Pages = append(summary.Pages, *dwell)
	}
	sort.Slice(summary.Pages, func(i, j int) bool {
		if summary.Pages[i].ScreenTimeMs != summary.Pages[j].ScreenTimeMs {
			return summary.Pages[i].ScreenTimeMs > summary.Pages[j].ScreenTimeMs
		}
		return summary.Pages[i].Path < summary.Pages[j].Path
	})
	return summary
}

// ScreenTimeReport returns per-path totals for days in [from, to].
func (s *Service) ScreenTimeReport(ctx context.Context, tenantID string, from, to time.Time) ([]PageScreenTime, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end precedes start", ErrValidation)
	}
	return s.repo.ScreenTimeByPage(ctx, tenantID, from, to)
}
