package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/parley/internal/audit"
)

// ErrEmptyActor is returned when an event has no actor.
var ErrEmptyActor = errors.New("audit event has no actor")

// StoredEvent is an audit event as read back from the database.
type StoredEvent struct {
	ID int64
	audit.Event
}

// EventRepository persists audit events. It implements audit.Sink.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates an EventRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Write inserts e. A zero At is stored as the current time.
//
// Precondition: e.Actor must be non-empty.
// Postcondition: Returns nil once the row is committed.
func (r *EventRepository) Write(ctx context.Context, e audit.Event) error {
	if e.Actor == "" {
		return ErrEmptyActor
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_events (kind, actor, counterpart, subject, outcome, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.Kind), e.Actor, e.Counterpart, e.Subject, e.Outcome, at,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// ListByActor returns up to limit events where username is the actor or the
// counterpart, newest first.
//
// Precondition: limit must be positive.
func (r *EventRepository) ListByActor(ctx context.Context, username string, limit int) ([]StoredEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, kind, actor, counterpart, subject, outcome, occurred_at
		 FROM audit_events
		 WHERE actor = $1 OR counterpart = $1
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $2`,
		username, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

// CountByKind returns the number of stored events of each kind.
func (r *EventRepository) CountByKind(ctx context.Context) (map[audit.Kind]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT kind, COUNT(*) FROM audit_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}
	defer rows.Close()

	counts := make(map[audit.Kind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning audit count: %w", err)
		}
		counts[audit.Kind(kind)] = n
	}
	return counts, rows.Err()
}

func scanEvent(row pgx.CollectableRow) (StoredEvent, error) {
	var ev StoredEvent
	var kind string
	err := row.Scan(&ev.ID, &kind, &ev.Actor, &ev.Counterpart, &ev.Subject, &ev.Outcome, &ev.At)
	ev.Kind = audit.Kind(kind)
	return ev, err
}
