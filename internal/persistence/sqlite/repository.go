// Package sqlite is a single-node activity store for running the collector without Postgres or
// Kafka. The screen-time report is aggregated directly from stored activities.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver (pure Go)

	"example.com/carwash/activity/internal/domain"
	"example.com/carwash/activity/internal/observability"
	"example.com/carwash/activity/internal/persistence"
)

// Repository implements domain.ActivityRepository on SQLite.
type Repository struct {
	db *sql.DB
}

var _ domain.ActivityRepository = (*Repository)(nil)

// Open opens the database at path, enabling WAL and a busy timeout, and creates the schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS activities(
	  activity_id   TEXT    PRIMARY KEY,
	  tenant_id     TEXT    NOT NULL,
	  user_id       TEXT    NOT NULL,
	  session_id    TEXT    NOT NULL,
	  activity_type TEXT    NOT NULL,
	  page_path     TEXT,
	  duration_ms   INTEGER,
	  occurred_ns   INTEGER NOT NULL,
	  received_ns   INTEGER NOT NULL,
	  document      TEXT    NOT NULL CHECK (json_valid(document))
	);
	CREATE INDEX IF NOT EXISTS idx_activities_tenant_time ON activities(tenant_id, occurred_ns, activity_id);
	CREATE INDEX IF NOT EXISTS idx_activities_session     ON activities(tenant_id, session_id);
	`)
	if err != nil {
		return fmt.Errorf("create sqlite tables: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// InsertBatch stores every record or none of them.
func (r *Repository) InsertBatch(ctx context.Context, tenantID string, records []domain.StoredActivity) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activities(activity_id, tenant_id, user_id, session_id, activity_type, page_path, duration_ms, occurred_ns, received_ns, document)
	  VALUES(?,?,?,?,?,?,?,?,?,json(?))`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		document, err := json.Marshal(record.Activity)
		if err != nil {
			return fmt.Errorf("encode activity %s: %w", record.ID, err)
		}
		var path sql.NullString
		if record.Page != nil && record.Page.Path != "" {
			path = sql.NullString{String: record.Page.Path, Valid: true}
		}
		var duration sql.NullInt64
		if record.Duration != nil {
			duration = sql.NullInt64{Int64: *record.Duration, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			record.ID, tenantID, record.UserID, record.SessionID, string(record.ActivityType),
			path, duration, record.OccurredAt.UnixNano(), record.ReceivedAt.UnixNano(), string(document),
		); err != nil {
			return fmt.Errorf("insert activity %s: %w", record.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	observability.RecordActivityPersisted(records[len(records)-1].ReceivedAt)
	return nil
}

const selectActivity = `SELECT activity_id, tenant_id, user_id, occurred_ns, received_ns, document FROM activities`

// List returns activities newest first. A full page yields a cursor for the next one.
func (r *Repository) List(ctx context.Context, filter domain.ListFilter, cursor *domain.Cursor, limit int) ([]domain.StoredActivity, *domain.Cursor, error) {
	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Type != "" {
		where = append(where, "activity_type = ?")
		args = append(args, string(filter.Type))
	}
	if cursor != nil {
		where = append(where, "(occurred_ns, activity_id) < (?, ?)")
		args = append(args, cursor.OccurredAt.UnixNano(), cursor.ID)
	}
	args = append(args, limit)

	query := selectActivity + " WHERE " + strings.Join(where, " AND ") + " ORDER BY occurred_ns DESC, activity_id DESC LIMIT ?"
	results, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	return results, persistence.NextCursor(results, limit), nil
}

// ListSession returns every activity recorded for a session in occurrence order.
func (r *Repository) ListSession(ctx context.Context, tenantID, sessionID string) ([]domain.StoredActivity, error) {
	return r.query(ctx, selectActivity+" WHERE tenant_id = ? AND session_id = ? ORDER BY occurred_ns, activity_id", tenantID, sessionID)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]domain.StoredActivity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	results := make([]domain.StoredActivity, 0)
	for rows.Next() {
		var (
			record             domain.StoredActivity
			occurred, received int64
			document           string
		)
		if err := rows.Scan(&record.ID, &record.TenantID, &record.UserID, &occurred, &received, &document); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(document), &record.Activity); err != nil {
			return nil, fmt.Errorf("decode activity %s: %w", record.ID, err)
		}
		record.OccurredAt = time.Unix(0, occurred).UTC()
		record.ReceivedAt = time.Unix(0, received).UTC()
		results = append(results, record)
	}
	return results, rows.Err()
}

// ScreenTimeByPage aggregates page views and screen time for UTC days in [from, to].
func (r *Repository) ScreenTimeByPage(ctx context.Context, tenantID string, from, to time.Time) ([]domain.PageScreenTime, error) {
	start := truncateDay(from)
	end := truncateDay(to).AddDate(0, 0, 1)

	rows, err := r.db.QueryContext(ctx, `
	SELECT page_path,
	       SUM(CASE WHEN activity_type = 'page_view' THEN 1 ELSE 0 END),
	       COALESCE(SUM(CASE WHEN activity_type = 'screen_time' THEN duration_ms ELSE 0 END), 0)
	  FROM activities
	 WHERE tenant_id = ? AND page_path IS NOT NULL
	   AND activity_type IN ('page_view', 'screen_time')
	   AND occurred_ns >= ? AND occurred_ns < ?
	 GROUP BY page_path
	 ORDER BY 3 DESC, 1`, tenantID, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query screen time: %w", err)
	}
	defer rows.Close()

	results := make([]domain.PageScreenTime, 0)
	for rows.Next() {
		var row domain.PageScreenTime
		if err := rows.Scan(&row.Path, &row.Views, &row.ScreenTimeMs); err != nil {
			return nil, fmt.Errorf("scan screen time: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
