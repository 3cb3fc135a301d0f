package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"example.com/carwash/activity/internal/device"
)

// ActivityType tags what kind of interaction an Activity describes.
type ActivityType string

const (
	ActivityLogin       ActivityType = "login"
	ActivityLogout      ActivityType = "logout"
	ActivityPageView    ActivityType = "page_view"
	ActivityScreenTime  ActivityType = "screen_time"
	ActivityButtonClick ActivityType = "button_click"
	ActivityNavigation  ActivityType = "navigation"
	ActivitySearch      ActivityType = "search"
	ActivityFilter      ActivityType = "filter"
	ActivityFormSubmit  ActivityType = "form_submit"
	ActivityScroll      ActivityType = "scroll"
	ActivityTabBlur     ActivityType = "tab_blur"
	ActivityTabFocus    ActivityType = "tab_focus"
)

var knownActivityTypes = map[ActivityType]struct{}{
	ActivityLogin:       {},
	ActivityLogout:      {},
	ActivityPageView:    {},
	ActivityScreenTime:  {},
	ActivityButtonClick: {},
	ActivityNavigation:  {},
	ActivitySearch:      {},
	ActivityFilter:      {},
	ActivityFormSubmit:  {},
	ActivityScroll:      {},
	ActivityTabBlur:     {},
	ActivityTabFocus:    {},
}

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	_, ok := knownActivityTypes[t]
	return ok
}

// MaxBatchSize bounds both the client retry queue and a single ingest request.
const MaxBatchSize = 200

// TimestampLayout renders ISO-8601 timestamps with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Page identifies the screen an activity happened on.
type Page struct {
	Path  string `json:"path"`
	Title string `json:"title,omitempty"`
}

// Action identifies the element a discrete interaction targeted.
type Action struct {
	Element string `json:"element"`
	Value   string `json:"value,omitempty"`
}

// Scroll carries scroll depth for scroll activities.
type Scroll struct {
	Depth    int `json:"depth"`
	MaxDepth int `json:"maxDepth"`
}

// Activity is one recorded user interaction. Values are built once by the tracker and are not
// modified afterwards.
type Activity struct {
	SessionID    string         `json:"sessionId"`
	ActivityType ActivityType   `json:"activityType"`
	Timestamp    string         `json:"timestamp"`
	Device       device.Info    `json:"device"`
	Page         *Page          `json:"page,omitempty"`
	Action       *Action        `json:"action,omitempty"`
	Scroll       *Scroll        `json:"scroll,omitempty"`
	Duration     *int64         `json:"duration,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Batch is the request envelope accepted by the collector.
type Batch struct {
	Activities []Activity `json:"activities"`
}

// Validate checks the fields the collector relies on.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	if !a.ActivityType.Valid() {
		return fmt.Errorf("unknown activityType %q", a.ActivityType)
	}
	if _, err := a.OccurredAt(); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	switch a.ActivityType {
	case ActivityScreenTime:
		if a.Duration == nil || *a.Duration < 0 {
			return fmt.Errorf("screen_time requires a non-negative duration")
		}
		if a.Page == nil || a.Page.Path == "" {
			return fmt.Errorf("screen_time requires a page path")
		}
	case ActivityPageView:
		if a.Page == nil || a.Page.Path == "" {
			return fmt.Errorf("page_view requires a page path")
		}
	case ActivityScroll:
		if a.Scroll == nil {
			return fmt.Errorf("scroll requires a scroll block")
		}
	}
	return nil
}

// OccurredAt parses the activity timestamp.
func (a Activity) OccurredAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, a.Timestamp)
}

// Clone returns a copy that shares no mutable state with a.
func (a Activity) Clone() Activity {
	out := a
	if a.Page != nil {
		page := *a.Page
		out.Page = &page
	}
	if a.Action != nil {
		action := *a.Action
		out.Action = &action
	}
	if a.Scroll != nil {
		scroll := *a.Scroll
		out.Scroll = &scroll
	}
	if a.Duration != nil {
		duration := *a.Duration
		out.Duration = &duration
	}
	out.Metadata = maps.Clone(a.Metadata)
	return out
}

// StoredActivity is an Activity accepted by the collector.
type StoredActivity struct {
	Activity
	ID         string
	TenantID   string
	UserID     string
	OccurredAt time.Time
	ReceivedAt time.Time
}
