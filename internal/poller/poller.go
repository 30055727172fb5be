package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/metrics"
	"github.com/fitmenthq/eventpipe/internal/store"
	"github.com/google/uuid"
)

// EventLister pages through the provider's event history.
type EventLister interface {
	ListEvents(ctx context.Context, after *string, eventTypes []string, limit int) ([]domain.ExternalEvent, error)
}

// CursorStore persists the singleton poll position.
type CursorStore interface {
	GetCursor(ctx context.Context) (*domain.EventCursor, error)
	SetCursor(ctx context.Context, cursor string) error
}

// Processor is the shared pipeline entry point.
type Processor interface {
	Process(ctx context.Context, eventID string, raw json.RawMessage, source domain.Source) domain.Result
}

// DeadLetters records events the poll path could not process. The poller is
// the last delivery attempt; after it the cursor has moved on.
type DeadLetters interface {
	InsertDeadLetter(ctx context.Context, rec store.DeadLetterRecord) error
}

// PollResult summarizes one poll cycle.
type PollResult struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	NewCursor string   `json:"new_cursor,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Poller is the safety net for dropped webhooks: on a fixed schedule it
// pulls recent events from the provider's list API and funnels them through
// the same processor as the webhook path. The shared ledger means neither
// path needs to know about the other.
type Poller struct {
	events      EventLister
	cursors     CursorStore
	processor   Processor
	deadLetters DeadLetters
	logger      *slog.Logger
	interval    time.Duration
	pageSize    int
}

func New(events EventLister, cursors CursorStore, processor Processor, deadLetters DeadLetters, interval time.Duration, pageSize int, logger *slog.Logger) *Poller {
	return &Poller{
		events:      events,
		cursors:     cursors,
		processor:   processor,
		deadLetters: deadLetters,
		logger:      logger,
		interval:    interval,
		pageSize:    pageSize,
	}
}

// Start runs poll cycles on the configured schedule until the context is
// cancelled. Cycles run sequentially; a slow cycle delays the next one
// rather than overlapping it.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.interval.String(), "page_size", p.pageSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("poll cycle failed", "error", err)
			}
		}
	}
}

// Poll runs one cycle: fetch a page of events after the cursor, process
// each in delivery order, then advance the cursor past the whole page.
// A failing event does not stop the batch and does not hold the cursor
// back: one poisoned event must not wedge polling for good. Because the
// cursor moves past it, the failure is dead-lettered so an operator can
// replay it; nothing else will offer this event again.
func (p *Poller) Poll(ctx context.Context) (PollResult, error) {
	var result PollResult

	cur, err := p.cursors.GetCursor(ctx)
	if err != nil {
		return result, fmt.Errorf("reading cursor: %w", err)
	}

	events, err := p.events.ListEvents(ctx, cur.Cursor, domain.HandledEventTypes, p.pageSize)
	if err != nil {
		return result, fmt.Errorf("listing events: %w", err)
	}

	if len(events) == 0 {
		return result, nil
	}

	// Sequential on purpose: membership events have soft dependencies on
	// entities that user/organization events create.
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("event %s: %v", ev.ID, err))
			continue
		}

		res := p.processor.Process(ctx, ev.ID, raw, domain.SourcePoll)
		switch {
		case res.Skipped:
			result.Skipped++
		case res.Success:
			result.Processed++
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("event %s: %s", ev.ID, res.Error))
			p.deadLetterEvent(ctx, ev.ID, raw, res.Error)
		}
	}

	last := events[len(events)-1].ID
	if err := p.cursors.SetCursor(ctx, last); err != nil {
		return result, fmt.Errorf("advancing cursor: %w", err)
	}
	result.NewCursor = last

	metrics.PollBatchesTotal.Inc()
	p.logger.Info("poll cycle complete",
		"fetched", len(events),
		"processed", result.Processed,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"cursor", last,
	)

	return result, nil
}

// deadLetterEvent preserves a polled event that processing rejected. The
// operator can replay it through the dead-letter retry endpoint.
func (p *Poller) deadLetterEvent(ctx context.Context, eventID string, raw json.RawMessage, cause string) {
	dlCtx, _ := json.Marshal(map[string]interface{}{
		"payload": raw,
	})

	rec := store.DeadLetterRecord{
		WorkflowID: uuid.NewString(),
		EntityType: domain.EntityEvent,
		EntityID:   eventID,
		Error:      cause,
		Context:    dlCtx,
		Retryable:  true,
		RetryCount: 1,
	}

	if err := p.deadLetters.InsertDeadLetter(ctx, rec); err != nil {
		p.logger.Error("failed to dead-letter polled event",
			"event_id", eventID,
			"error", err,
		)
		return
	}

	metrics.DeadLettersTotal.WithLabelValues(domain.EntityEvent).Inc()
	p.logger.Error("polled event dead-lettered", "event_id", eventID, "cause", cause)
}
