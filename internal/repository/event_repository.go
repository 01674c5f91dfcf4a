// Package repository implements the durable event store on PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edupulse/event-pipeline/internal/events"
	"github.com/edupulse/event-pipeline/internal/metrics"
)

// Event repository errors
var (
	ErrEventNotFound = errors.New("event not found")
)

// QueryParams holds optional filters for querying persisted events.
type QueryParams struct {
	EventType string
	SessionID string
	UserID    string
	Since     *time.Time
	Limit     int
}

// TypeStat is the per-type aggregate row from event_stats.
type TypeStat struct {
	EventType string     `db:"event_type" json:"event_type"`
	Count     int64      `db:"count" json:"count"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen"`
}

// PipelineStats aggregates store-level statistics.
type PipelineStats struct {
	TotalEvents    int64      `json:"total_events"`
	EventsLastHour int64      `json:"events_last_hour"`
	ByType         []TypeStat `json:"by_type"`
}

// EventRepositoryInterface defines the durable store operations used by
// the ingestion and query boundaries. The router never touches it.
type EventRepositoryInterface interface {
	Insert(ctx context.Context, ev events.Event) error
	Query(ctx context.Context, params QueryParams) ([]events.Event, error)
	GetByID(ctx context.Context, id string) (*events.Event, error)
	Stats(ctx context.Context) (*PipelineStats, error)
	ListBefore(ctx context.Context, before *time.Time) ([]events.Event, error)
	DeleteBefore(ctx context.Context, before *time.Time) (int64, error)
}

// EventRepo implements EventRepositoryInterface using PostgreSQL
type EventRepo struct {
	db *sqlx.DB
}

// NewEventRepo creates a new EventRepo instance
func NewEventRepo(db *sqlx.DB) *EventRepo {
	return &EventRepo{db: db}
}

// Insert persists an event and bumps its type's aggregate counter in one
// transaction.
func (r *EventRepo) Insert(ctx context.Context, ev events.Event) error {
	defer metrics.TimeQuery("insert_event")()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, event_type, source, session_id, user_id, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.Type, ev.Source, ev.SessionID, ev.UserID, []byte(ev.Payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_stats (event_type, count, last_seen)
		VALUES ($1, 1, $2)
		ON CONFLICT (event_type) DO UPDATE SET
			count = event_stats.count + 1,
			last_seen = EXCLUDED.last_seen
	`, ev.Type, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to update event stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Query retrieves events matching the given filters, newest first.
func (r *EventRepo) Query(ctx context.Context, params QueryParams) ([]events.Event, error) {
	defer metrics.TimeQuery("query_events")()

	if params.Limit < 1 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}

	query := `SELECT id, event_type, source, session_id, user_id, payload, timestamp FROM events WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, params.EventType)
		argIdx++
	}
	if params.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, params.SessionID)
		argIdx++
	}
	if params.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, params.UserID)
		argIdx++
	}
	if params.Since != nil {
		query += fmt.Sprintf(" AND timestamp > $%d", argIdx)
		args = append(args, *params.Since)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argIdx)
	args = append(args, params.Limit)

	result := []events.Event{}
	if err := r.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return result, nil
}

// GetByID retrieves a single event. Returns ErrEventNotFound if absent.
func (r *EventRepo) GetByID(ctx context.Context, id string) (*events.Event, error) {
	defer metrics.TimeQuery("get_event")()

	var ev events.Event
	err := r.db.GetContext(ctx, &ev, `
		SELECT id, event_type, source, session_id, user_id, payload, timestamp
		FROM events WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &ev, nil
}

// Stats returns store-level aggregates: total events, events in the last
// hour, and the per-type counters.
func (r *EventRepo) Stats(ctx context.Context) (*PipelineStats, error) {
	defer metrics.TimeQuery("get_stats")()

	stats := &PipelineStats{ByType: []TypeStat{}}

	if err := r.db.GetContext(ctx, &stats.TotalEvents,
		`SELECT COUNT(*) FROM events`); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if err := r.db.GetContext(ctx, &stats.EventsLastHour,
		`SELECT COUNT(*) FROM events WHERE timestamp > NOW() - INTERVAL '1 hour'`); err != nil {
		return nil, fmt.Errorf("failed to count recent events: %w", err)
	}

	if err := r.db.SelectContext(ctx, &stats.ByType,
		`SELECT event_type, count, last_seen FROM event_stats ORDER BY count DESC`); err != nil {
		return nil, fmt.Errorf("failed to query event stats: %w", err)
	}

	return stats, nil
}

// ListBefore returns events older than the cutoff (all events when nil),
// oldest first, for archival before a purge.
func (r *EventRepo) ListBefore(ctx context.Context, before *time.Time) ([]events.Event, error) {
	defer metrics.TimeQuery("list_before")()

	query := `SELECT id, event_type, source, session_id, user_id, payload, timestamp FROM events`
	args := []interface{}{}
	if before != nil {
		query += ` WHERE timestamp < $1`
		args = append(args, *before)
	}
	query += ` ORDER BY timestamp ASC`

	result := []events.Event{}
	if err := r.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return result, nil
}

// DeleteBefore removes events older than the cutoff. A nil cutoff clears
// the whole store, including the aggregate counters. Returns the number
// of deleted events.
func (r *EventRepo) DeleteBefore(ctx context.Context, before *time.Time) (int64, error) {
	defer metrics.TimeQuery("delete_events")()

	if before != nil {
		res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, *before)
		if err != nil {
			return 0, fmt.Errorf("failed to delete events: %w", err)
		}
		deleted, _ := res.RowsAffected()
		return deleted, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_stats`); err != nil {
		return 0, fmt.Errorf("failed to clear event stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return deleted, nil
}
