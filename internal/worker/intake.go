package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
)

// EventProcessor is the pipeline entry point the intake runner feeds.
type EventProcessor interface {
	Process(ctx context.Context, eventID string, raw json.RawMessage, source domain.Source) domain.Result
}

// IntakeRunner drains the intake queue: it runs webhook-delivered events
// through the processor asynchronously, keeping the webhook handler itself
// down to verify-and-enqueue.
type IntakeRunner struct {
	processor EventProcessor
	logger    *slog.Logger
}

func NewIntakeRunner(processor EventProcessor, logger *slog.Logger) *IntakeRunner {
	return &IntakeRunner{processor: processor, logger: logger}
}

func (r *IntakeRunner) Run(ctx context.Context, payload []byte) {
	var job engine.IntakeJob
	if err := json.Unmarshal(payload, &job); err != nil {
		r.logger.Error("failed to unmarshal intake job", "error", err)
		return
	}

	res := r.processor.Process(ctx, job.EventID, job.Event, job.Source)
	if !res.Success {
		// The webhook path does not self-retry; the poll safeguard will
		// re-offer this event from the provider's event list.
		r.logger.Warn("webhook event processing failed",
			"event_id", job.EventID,
			"error", res.Error,
		)
	}
}
