// Package events defines the payloads the collector publishes for downstream consumers.
package events

import "time"

// Routing for activity events. The topic name is shared by the outbox writer, the dispatcher and
// the projection consumer.
const (
	ActivityRecordedType    = "activity.recorded"
	ActivityTopic           = "admin_activity_events"
	ActivitySubject         = ActivityTopic + "-value"
	ActivityAggregateType   = "activity"
	ActivityRecordedVersion = "v1"
)

// ActivityRecorded is emitted once for every activity the collector stores.
type ActivityRecorded struct {
	ActivityID   string    `json:"activity_id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	ActivityType string    `json:"activity_type"`
	PagePath     string    `json:"page_path,omitempty"`
	PageTitle    string    `json:"page_title,omitempty"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	ReceivedAt   time.Time `json:"received_at"`
	Version      string    `json:"version"`
}
