package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/jackc/pgx/v5"
)

// DeadLetterRecord holds data for inserting a dead letter entry.
type DeadLetterRecord struct {
	WorkflowID  string
	EntityType  string
	EntityID    string
	Error       string
	Context     []byte
	Retryable   bool
	RetryCount  int
	LastRetryAt *time.Time
}

// InsertDeadLetter adds a permanently failed sync to the dead letter queue.
func (s *PostgresStore) InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) error {
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (workflow_id, entity_type, entity_id, error, context, retryable, retry_count, last_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.WorkflowID, rec.EntityType, rec.EntityID, errMsg, rec.Context,
		rec.Retryable, rec.RetryCount, rec.LastRetryAt)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns dead letter entries with optional filtering.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, entityType string, resolved bool, limit int) ([]domain.DeadLetterEntry, error) {
	query := `SELECT id, workflow_id, entity_type, entity_id, error, context, retryable, retry_count, last_retry_at, created_at, resolved_at, resolved_by FROM dead_letters`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if entityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argIdx))
		args = append(args, entityType)
		argIdx++
	}

	if resolved {
		conditions = append(conditions, "resolved_at IS NOT NULL")
	} else {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	query += " WHERE "
	for i, c := range conditions {
		if i > 0 {
			query += " AND "
		}
		query += c
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var letters []domain.DeadLetterEntry
	for rows.Next() {
		var dl domain.DeadLetterEntry
		err := rows.Scan(
			&dl.ID, &dl.WorkflowID, &dl.EntityType, &dl.EntityID,
			&dl.Error, &dl.Context, &dl.Retryable, &dl.RetryCount,
			&dl.LastRetryAt, &dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, dl)
	}

	if letters == nil {
		letters = []domain.DeadLetterEntry{}
	}

	return letters, nil
}

// GetDeadLetter returns a single dead letter by ID.
func (s *PostgresStore) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	var dl domain.DeadLetterEntry
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, entity_type, entity_id, error, context, retryable, retry_count, last_retry_at, created_at, resolved_at, resolved_by
		FROM dead_letters WHERE id = $1
	`, id).Scan(
		&dl.ID, &dl.WorkflowID, &dl.EntityType, &dl.EntityID,
		&dl.Error, &dl.Context, &dl.Retryable, &dl.RetryCount,
		&dl.LastRetryAt, &dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying dead letter: %w", err)
	}
	return &dl, nil
}

// ResolveDeadLetter marks a dead letter as resolved. The pipeline never
// calls this; only operator tooling does, and only once per entry.
func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id string, resolvedBy string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE dead_letters SET resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolving dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("dead letter not found or already resolved")
	}
	return nil
}
