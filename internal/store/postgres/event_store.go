package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append journals one event. Replays of an already-journaled event id are
// silently skipped.
func (s *EventStore) Append(ctx context.Context, ev domain.EventRecord) error {
	const query = `
		INSERT INTO events (id, event_type, pool_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Type, ev.PoolID, ev.Payload, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListByPool returns a pool's events in journal order with pagination.
func (s *EventStore) ListByPool(ctx context.Context, poolID int64, opts domain.ListOpts) ([]domain.EventRecord, error) {
	query := `
		SELECT id, event_type, pool_id, payload, created_at
		FROM events WHERE pool_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{poolID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for pool %d: %w", poolID, err)
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.PoolID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
