package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/jackc/pgx/v5"
)

// The cursor is a single-row table rather than in-process state so that it
// survives restarts and multi-instance deployment.

// GetCursor returns the current poll position. A missing row means "start
// from the beginning of available history".
func (s *PostgresStore) GetCursor(ctx context.Context) (*domain.EventCursor, error) {
	var c domain.EventCursor
	err := s.pool.QueryRow(ctx,
		"SELECT cursor, last_polled_at FROM event_cursor WHERE id = 1",
	).Scan(&c.Cursor, &c.LastPolledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.EventCursor{}, nil
		}
		return nil, fmt.Errorf("querying event cursor: %w", err)
	}
	return &c, nil
}

// SetCursor advances the poll position to the given event ID.
func (s *PostgresStore) SetCursor(ctx context.Context, cursor string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_cursor (id, cursor, last_polled_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET cursor = $1, last_polled_at = NOW()
	`, cursor)
	if err != nil {
		return fmt.Errorf("setting event cursor: %w", err)
	}
	return nil
}

// ResetCursor clears the poll position so the next cycle re-fetches from the
// beginning. This is the only way the cursor ever moves backwards.
func (s *PostgresStore) ResetCursor(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_cursor (id, cursor, last_polled_at)
		VALUES (1, NULL, NOW())
		ON CONFLICT (id) DO UPDATE SET cursor = NULL, last_polled_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("resetting event cursor: %w", err)
	}
	return nil
}
