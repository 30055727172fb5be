package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/metrics"
	"github.com/fitmenthq/eventpipe/internal/store"
)

// SinkTarget names the analytical sink in the circuit breaker's keyspace.
const SinkTarget = "analytics_sink"

// DeadLetters is the terminal store for exhausted syncs.
type DeadLetters interface {
	InsertDeadLetter(ctx context.Context, rec store.DeadLetterRecord) error
}

// Syncer executes one sync attempt against the analytical sink. Failures
// are converted into either a rescheduled attempt (with backoff carried in
// the job itself) or a dead letter — they never reach the call site that
// mutated the primary record.
type Syncer struct {
	sink        Sink
	queues      *engine.Queues
	deadLetters DeadLetters
	breaker     *engine.CircuitBreaker
	logger      *slog.Logger
}

func NewSyncer(sink Sink, queues *engine.Queues, deadLetters DeadLetters, breaker *engine.CircuitBreaker, logger *slog.Logger) *Syncer {
	return &Syncer{
		sink:        sink,
		queues:      queues,
		deadLetters: deadLetters,
		breaker:     breaker,
		logger:      logger,
	}
}

func (s *Syncer) Run(ctx context.Context, payload []byte) {
	var job engine.SyncJob
	if err := json.Unmarshal(payload, &job); err != nil {
		s.logger.Error("failed to unmarshal sync job", "error", err)
		return
	}

	metrics.SyncAttemptsTotal.Inc()

	if _, allowed := s.breaker.AllowRequest(ctx, SinkTarget); !allowed {
		// Breaker open counts against the retry budget like any other
		// transient failure; the backoff gives the sink time to recover.
		s.retryOrDeadLetter(ctx, job, errors.New("sink circuit breaker open"), true)
		return
	}

	err := s.execute(ctx, job)
	if err == nil {
		s.breaker.RecordSuccess(ctx, SinkTarget)
		s.logger.Info("sync complete",
			"workflow_id", job.WorkflowID,
			"entity_type", job.EntityType,
			"entity_id", job.EntityID,
			"op", job.Op,
			"attempt", job.Attempt,
		)
		return
	}

	s.breaker.RecordFailure(ctx, SinkTarget)

	retryable := true
	var se *SinkError
	if errors.As(err, &se) {
		retryable = se.Retryable()
	}

	s.retryOrDeadLetter(ctx, job, err, retryable)
}

func (s *Syncer) execute(ctx context.Context, job engine.SyncJob) error {
	if job.Op == engine.OpDelete {
		return s.sink.DeleteRecord(ctx, job.EntityType, job.EntityID)
	}
	return s.sink.UpsertRecord(ctx, job.EntityType, job.EntityID, job.Payload)
}

// retryOrDeadLetter reschedules a retryable failure with exponential
// backoff, or writes the terminal dead letter once the budget is spent.
func (s *Syncer) retryOrDeadLetter(ctx context.Context, job engine.SyncJob, cause error, retryable bool) {
	if retryable && job.Attempt < job.MaxRetries {
		next := job
		next.Attempt++
		delay := engine.Backoff(job.Attempt)

		if err := s.queues.EnqueueSync(ctx, next, delay); err != nil {
			s.logger.Error("failed to reschedule sync",
				"workflow_id", job.WorkflowID,
				"error", err,
			)
			s.writeDeadLetter(ctx, job, cause, true)
			return
		}

		metrics.SyncRetriesTotal.Inc()
		s.logger.Warn("sync failed, rescheduled",
			"workflow_id", job.WorkflowID,
			"entity_type", job.EntityType,
			"entity_id", job.EntityID,
			"attempt", job.Attempt,
			"next_attempt_in", delay.String(),
			"error", cause,
		)
		return
	}

	s.writeDeadLetter(ctx, job, cause, retryable)
}

func (s *Syncer) writeDeadLetter(ctx context.Context, job engine.SyncJob, cause error, retryable bool) {
	now := time.Now()

	// Keep enough context to replay the sync by hand.
	dlCtx, _ := json.Marshal(map[string]interface{}{
		"op":      job.Op,
		"payload": job.Payload,
	})

	rec := store.DeadLetterRecord{
		WorkflowID:  job.WorkflowID,
		EntityType:  job.EntityType,
		EntityID:    job.EntityID,
		Error:       cause.Error(),
		Context:     dlCtx,
		Retryable:   retryable,
		RetryCount:  job.Attempt,
		LastRetryAt: &now,
	}

	if err := s.deadLetters.InsertDeadLetter(ctx, rec); err != nil {
		s.logger.Error("failed to write dead letter",
			"workflow_id", job.WorkflowID,
			"entity_type", job.EntityType,
			"entity_id", job.EntityID,
			"error", err,
		)
		return
	}

	metrics.DeadLettersTotal.WithLabelValues(job.EntityType).Inc()
	s.logger.Error("sync dead-lettered",
		"workflow_id", job.WorkflowID,
		"entity_type", job.EntityType,
		"entity_id", job.EntityID,
		"retry_count", job.Attempt,
		"retryable", retryable,
		"error", cause,
	)
}
