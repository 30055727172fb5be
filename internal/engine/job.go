package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis sorted-set queues, scored by unix-micro readiness time. A job with a
// future score is a scheduled retry; the dispatcher only claims jobs whose
// score has come due.
const (
	IntakeQueueKey = "intake_queue"
	SyncQueueKey   = "sync_queue"
)

// Retry policy for the cross-system sync workflow.
const (
	MaxSyncRetries   = 5
	InitialSyncDelay = 2 * time.Second
	MaxSyncDelay     = 30 * time.Second
)

type SyncOp string

const (
	OpUpsert SyncOp = "upsert"
	OpDelete SyncOp = "delete"
)

// SyncJob is one attempt of a cross-system sync. The retry counter travels
// inside the job itself, so a rescheduled attempt is self-contained and
// survives process restarts.
type SyncJob struct {
	WorkflowID string          `json:"workflow_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Op         SyncOp          `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
}

// IntakeJob carries a verified webhook event to the processor. The webhook
// handler enqueues and returns; it never processes inline.
type IntakeJob struct {
	EventID string          `json:"event_id"`
	Event   json.RawMessage `json:"event"`
	Source  domain.Source   `json:"source"`
}

// Backoff returns the delay before retrying after a failed attempt:
// min(InitialSyncDelay * 2^(attempt-1), MaxSyncDelay).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := InitialSyncDelay << (attempt - 1)
	if delay > MaxSyncDelay || delay <= 0 {
		return MaxSyncDelay
	}
	return delay
}

// Queues wraps the Redis-backed delayed-task queues shared by webhook
// intake, the poller and the sync workflow.
type Queues struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewQueues(redisClient *redis.Client, logger *slog.Logger) *Queues {
	return &Queues{redisClient: redisClient, logger: logger}
}

// EnqueueIntake schedules an event for immediate processing.
func (q *Queues) EnqueueIntake(ctx context.Context, job IntakeJob) error {
	return q.enqueue(ctx, IntakeQueueKey, job, 0)
}

// EnqueueSync schedules a sync attempt after the given delay.
func (q *Queues) EnqueueSync(ctx context.Context, job SyncJob, delay time.Duration) error {
	return q.enqueue(ctx, SyncQueueKey, job, delay)
}

func (q *Queues) enqueue(ctx context.Context, key string, job interface{}, delay time.Duration) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.redisClient.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMicro()),
		Member: string(jobBytes),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing job: %w", err)
	}
	return nil
}

// ScheduleEntitySync starts a fresh sync workflow for an entity after its
// local mutation committed. Fire-and-forget: an enqueue failure is logged,
// never returned, because the primary write already succeeded and must not
// be rolled back over a stale downstream mirror.
func (q *Queues) ScheduleEntitySync(ctx context.Context, entityType, entityID string, op SyncOp, payload json.RawMessage) {
	job := SyncJob{
		WorkflowID: uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Payload:    payload,
		Attempt:    1,
		MaxRetries: MaxSyncRetries,
	}

	if err := q.EnqueueSync(ctx, job, 0); err != nil {
		q.logger.Error("failed to schedule entity sync",
			"error", err,
			"entity_type", entityType,
			"entity_id", entityID,
		)
		return
	}

	q.logger.Debug("entity sync scheduled",
		"workflow_id", job.WorkflowID,
		"entity_type", entityType,
		"entity_id", entityID,
		"op", op,
	)
}

// QueueDepth returns the number of jobs waiting in the given queue.
func (q *Queues) QueueDepth(ctx context.Context, key string) (int64, error) {
	return q.redisClient.ZCard(ctx, key).Result()
}
