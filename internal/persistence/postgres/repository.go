// Package postgres stores collector activities, their outbox events and the screen-time
// projection in Postgres. Every statement runs inside a transaction scoped to one tenant.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/carwash/activity/internal/domain"
	"example.com/carwash/activity/internal/events"
	"example.com/carwash/activity/internal/observability"
	"example.com/carwash/activity/internal/persistence"
)

const dayLayout = "2006-01-02"

// Repository provides Postgres-backed persistence for activities and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ domain.ActivityRepository = (*Repository)(nil)

// inTenant runs fn in a transaction with app.tenant_id set for row level security. The
// transaction commits when fn returns nil.
func (r *Repository) inTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertBatch persists the activities and one activity.recorded outbox row per activity inside a
// single transaction.
func (r *Repository) InsertBatch(ctx context.Context, tenantID string, records []domain.StoredActivity) error {
	if len(records) == 0 {
		return nil
	}

	const insertActivity = `INSERT INTO activities (activity_id, tenant_id, user_id, session_id, activity_type, page_path, duration_ms, occurred_at, received_at, document)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	batch := &pgx.Batch{}
	for _, record := range records {
		document, err := json.Marshal(record.Activity)
		if err != nil {
			return fmt.Errorf("encode activity %s: %w", record.ID, err)
		}
		batch.Queue(insertActivity,
			record.ID,
			tenantID,
			record.UserID,
			record.SessionID,
			string(record.ActivityType),
			nullIfEmpty(pagePath(record.Activity)),
			record.Duration,
			record.OccurredAt,
			record.ReceivedAt,
			document,
		)
		if err := queueOutbox(batch, tenantID, record); err != nil {
			return err
		}
	}

	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return err
	}
	observability.RecordActivityPersisted(records[len(records)-1].ReceivedAt)
	return nil
}

func queueOutbox(batch *pgx.Batch, tenantID string, record domain.StoredActivity) error {
	meta, ok := eventCatalog[events.ActivityRecordedType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", events.ActivityRecordedType)
	}

	payload := events.ActivityRecorded{
		ActivityID:   record.ID,
		TenantID:     tenantID,
		UserID:       record.UserID,
		SessionID:    record.SessionID,
		ActivityType: string(record.ActivityType),
		DurationMs:   record.Duration,
		OccurredAt:   record.OccurredAt,
		ReceivedAt:   record.ReceivedAt,
		Version:      events.ActivityRecordedVersion,
	}
	if record.Page != nil {
		payload.PagePath = record.Page.Path
		payload.PageTitle = record.Page.Title
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	batch.Queue(stmt,
		tenantID,
		events.ActivityAggregateType,
		record.ID,
		events.ActivityRecordedType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(record),
		body,
		fmt.Sprintf("%s:%s", record.ID, events.ActivityRecordedType),
	)
	return nil
}

const selectActivity = `SELECT activity_id, tenant_id, user_id, occurred_at, received_at, document FROM activities`

// List returns activities newest first. A full page yields a cursor for the next one.
func (r *Repository) List(ctx context.Context, filter domain.ListFilter, cursor *domain.Cursor, limit int) ([]domain.StoredActivity, *domain.Cursor, error) {
	args := []any{filter.TenantID}
	where := []string{"tenant_id = $1"}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Type != "" {
		add("activity_type = $%d", string(filter.Type))
	}
	if cursor != nil {
		args = append(args, cursor.OccurredAt, cursor.ID)
		where = append(where, fmt.Sprintf("(occurred_at, activity_id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit)
	query := fmt.Sprintf("%s WHERE %s ORDER BY occurred_at DESC, activity_id DESC LIMIT $%d",
		selectActivity, strings.Join(where, " AND "), len(args))

	var results []domain.StoredActivity
	err := r.inTenant(ctx, filter.TenantID, func(tx pgx.Tx) error {
		var err error
		results, err = queryActivities(ctx, tx, query, args...)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return results, persistence.NextCursor(results, limit), nil
}

// ListSession returns every activity recorded for a session in occurrence order.
func (r *Repository) ListSession(ctx context.Context, tenantID, sessionID string) ([]domain.StoredActivity, error) {
	query := selectActivity + ` WHERE tenant_id = $1 AND session_id = $2 ORDER BY occurred_at, activity_id`

	var results []domain.StoredActivity
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		results, err = queryActivities(ctx, tx, query, tenantID, sessionID)
		return err
	})
	return results, err
}

func queryActivities(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]domain.StoredActivity, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.StoredActivity, 0)
	for rows.Next() {
		var (
			record   domain.StoredActivity
			document []byte
		)
		if err := rows.Scan(&record.ID, &record.TenantID, &record.UserID, &record.OccurredAt, &record.ReceivedAt, &document); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(document, &record.Activity); err != nil {
			return nil, fmt.Errorf("decode activity %s: %w", record.ID, err)
		}
		record.OccurredAt = record.OccurredAt.UTC()
		record.ReceivedAt = record.ReceivedAt.UTC()
		results = append(results, record)
	}
	return results, rows.Err()
}

// ScreenTimeByPage reads the daily projection for days in [from, to].
func (r *Repository) ScreenTimeByPage(ctx context.Context, tenantID string, from, to time.Time) ([]domain.PageScreenTime, error) {
	const query = `SELECT page_path, SUM(views)::BIGINT, SUM(screen_time_ms)::BIGINT
        FROM page_screen_time_daily
        WHERE tenant_id = $1 AND day BETWEEN $2::date AND $3::date
        GROUP BY page_path
        ORDER BY 3 DESC, 1`

	results := make([]domain.PageScreenTime, 0)
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, from.UTC().Format(dayLayout), to.UTC().Format(dayLayout))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row domain.PageScreenTime
			if err := rows.Scan(&row.Path, &row.Views, &row.ScreenTimeMs); err != nil {
				return err
			}
			results = append(results, row)
		}
		return rows.Err()
	})
	return results, err
}

// AddPageView counts one view of path on the day of occurredAt. It reports false when the
// activity was already projected.
func (r *Repository) AddPageView(ctx context.Context, tenantID, activityID, path string, occurredAt time.Time) (bool, error) {
	return r.project(ctx, tenantID, activityID, path, occurredAt, 1, 0)
}

// AddScreenTime adds durationMs of dwell on path to the day of occurredAt. It reports false when
// the activity was already projected.
func (r *Repository) AddScreenTime(ctx context.Context, tenantID, activityID, path string, occurredAt time.Time, durationMs int64) (bool, error) {
	return r.project(ctx, tenantID, activityID, path, occurredAt, 0, durationMs)
}

func (r *Repository) project(ctx context.Context, tenantID, activityID, path string, occurredAt time.Time, views, durationMs int64) (bool, error) {
	applied := false
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO projected_activities (tenant_id, activity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			tenantID, activityID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO page_screen_time_daily (tenant_id, day, page_path, views, screen_time_ms)
             VALUES ($1, $2::date, $3, $4, $5)
             ON CONFLICT (tenant_id, day, page_path) DO UPDATE
               SET views = page_screen_time_daily.views + EXCLUDED.views,
                   screen_time_ms = page_screen_time_daily.screen_time_ms + EXCLUDED.screen_time_ms,
                   updated_at = NOW()`,
			tenantID, occurredAt.UTC().Format(dayLayout), path, views, durationMs)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func pagePath(a domain.Activity) string {
	if a.Page == nil {
		return ""
	}
	return a.Page.Path
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.StoredActivity) string
}

var eventCatalog = map[string]EventMetadata{
	events.ActivityRecordedType: {
		Topic:         events.ActivityTopic,
		SchemaSubject: events.ActivitySubject,
		PartitionKeyFn: func(a domain.StoredActivity) string {
			return a.SessionID
		},
	},
}
