package api

import (
	"time"

	"example.com/carwash/activity/internal/domain"
)

// IngestResponse acknowledges an accepted batch.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// ActivityView is a stored activity as returned by the listing endpoint.
type ActivityView struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ReceivedAt time.Time `json:"receivedAt"`
	domain.Activity
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// PageDwellView is one page inside a session summary.
type PageDwellView struct {
	Path         string `json:"path"`
	Title        string `json:"title,omitempty"`
	Views        int    `json:"views"`
	ScreenTimeMs int64  `json:"screenTimeMs"`
}

// SessionSummaryView describes one tracker session.
type SessionSummaryView struct {
	SessionID    string          `json:"sessionId"`
	UserID       string          `json:"userId"`
	FirstSeen    time.Time       `json:"firstSeen"`
	LastSeen     time.Time       `json:"lastSeen"`
	Total        int             `json:"total"`
	Counts       map[string]int  `json:"counts"`
	ScreenTimeMs int64           `json:"screenTimeMs"`
	Pages        []PageDwellView `json:"pages"`
}

// PageScreenTimeView is one row of the screen-time report.
type PageScreenTimeView struct {
	Path         string `json:"path"`
	Views        int64  `json:"views"`
	ScreenTimeMs int64  `json:"screenTimeMs"`
}

// ScreenTimeReportResponse is the body of the screen-time report.
type ScreenTimeReportResponse struct {
	From  string               `json:"from"`
	To    string               `json:"to"`
	Pages []PageScreenTimeView `json:"pages"`
}

func toActivityView(record domain.StoredActivity) ActivityView {
	return ActivityView{
		ID:         record.ID,
		UserID:     record.UserID,
		ReceivedAt: record.ReceivedAt,
		Activity:   record.Activity,
	}
}

func toSessionSummaryView(summary domain.SessionSummary) SessionSummaryView {
	counts := make(map[string]int, len(summary.Counts))
	for typ, n := range summary.Counts {
		counts[string(typ)] = n
	}
	pages := make([]PageDwellView, 0, len(summary.Pages))
	for _, page := range summary.Pages {
		pages = append(pages, PageDwellView(page))
	}
	return SessionSummaryView{
		SessionID:    summary.SessionID,
		UserID:       summary.UserID,
		FirstSeen:    summary.FirstSeen,
		LastSeen:     summary.LastSeen,
		Total:        summary.Total,
		Counts:       counts,
		ScreenTimeMs: summary.ScreenTimeMs,
		Pages:        pages,
	}
}
