package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"example.com/carwash/activity/internal/domain"
	"example.com/carwash/activity/internal/events"
	"example.com/carwash/activity/internal/observability"
)

// ProjectionStore applies screen-time increments. Both methods report false when the activity was
// already projected.
type ProjectionStore interface {
	AddPageView(ctx context.Context, tenantID, activityID, path string, occurredAt time.Time) (bool, error)
	AddScreenTime(ctx context.Context, tenantID, activityID, path string, occurredAt time.Time, durationMs int64) (bool, error)
}

// ScreenTimeProjector folds page_view and screen_time activities into the daily per-page
// projection. Every other event is acknowledged without effect.
type ScreenTimeProjector struct {
	store  ProjectionStore
	logger *slog.Logger
}

// NewScreenTimeProjector constructs a projector writing to store.
func NewScreenTimeProjector(store ProjectionStore, logger *slog.Logger) *ScreenTimeProjector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ScreenTimeProjector{store: store, logger: logger.With("component", "screen_time_projector")}
}

// Handle implements Handler.
func (p *ScreenTimeProjector) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.ActivityRecordedType {
		return nil
	}

	var event events.ActivityRecorded
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// Retrying cannot fix a payload that does not parse.
		p.logger.Warn("skipping malformed payload", "offset", msg.Offset, "error", err)
		recordDecodeError(msg.Topic)
		return nil
	}
	if event.TenantID != msg.TenantID {
		p.logger.Warn("skipping event with mismatched tenant", "activity_id", event.ActivityID, "header_tenant", msg.TenantID, "payload_tenant", event.TenantID)
		return nil
	}
	if event.PagePath == "" {
		return nil
	}

	var (
		applied bool
		err     error
	)
	switch domain.ActivityType(event.ActivityType) {
	case domain.ActivityPageView:
		applied, err = p.store.AddPageView(ctx, event.TenantID, event.ActivityID, event.PagePath, event.OccurredAt)
	case domain.ActivityScreenTime:
		if event.DurationMs == nil || *event.DurationMs < 0 {
			return nil
		}
		applied, err = p.store.AddScreenTime(ctx, event.TenantID, event.ActivityID, event.PagePath, event.OccurredAt, *event.DurationMs)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if applied {
		observability.RecordActivityProjected(event.OccurredAt)
	} else {
		p.logger.Debug("activity already projected", "activity_id", event.ActivityID)
	}
	return nil
}
