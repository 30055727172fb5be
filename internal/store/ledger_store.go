package store

import (
	"context"
	"fmt"
	"time"
)

// IsProcessed reports whether an identity-provider event ID is already in
// the idempotency ledger.
func (s *PostgresStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)",
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed records an event ID as handled. Safe to call twice for the
// same ID: two callers can both pass the IsProcessed check and the conflict
// clause absorbs the losing insert.
func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}
	return nil
}

// IsBillingEventProcessed checks the payment-processor ledger. It is kept
// separate from processed_events so the comparatively expensive full-refresh
// fetch is skipped before it is even attempted.
func (s *PostgresStore) IsBillingEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM billing_webhook_events WHERE event_id = $1)",
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking billing event: %w", err)
	}
	return exists, nil
}

// MarkBillingEventProcessed records a payment-processor event ID, with the
// customer ID kept alongside for diagnostics.
func (s *PostgresStore) MarkBillingEventProcessed(ctx context.Context, eventID, eventType, customerID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_webhook_events (event_id, event_type, customer_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, customerID)
	if err != nil {
		return fmt.Errorf("marking billing event processed: %w", err)
	}
	return nil
}

// DeleteProcessedBefore sweeps ledger rows older than the cutoff from both
// ledgers. Returns the total number of rows removed.
func (s *PostgresStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.pool.Exec(ctx,
		"DELETE FROM processed_events WHERE processed_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping processed events: %w", err)
	}
	total := res.RowsAffected()

	res, err = s.pool.Exec(ctx,
		"DELETE FROM billing_webhook_events WHERE processed_at < $1", cutoff)
	if err != nil {
		return total, fmt.Errorf("sweeping billing events: %w", err)
	}
	return total + res.RowsAffected(), nil
}
