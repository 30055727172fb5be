package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/store"
)

type fakeLister struct {
	events    []domain.ExternalEvent
	lastAfter *string
	lastTypes []string
	err       error
}

func (f *fakeLister) ListEvents(ctx context.Context, after *string, eventTypes []string, limit int) ([]domain.ExternalEvent, error) {
	f.lastAfter = after
	f.lastTypes = eventTypes
	if f.err != nil {
		return nil, f.err
	}
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type fakeCursors struct {
	cursor   *string
	setCalls int
}

func (f *fakeCursors) GetCursor(ctx context.Context) (*domain.EventCursor, error) {
	return &domain.EventCursor{Cursor: f.cursor}, nil
}

func (f *fakeCursors) SetCursor(ctx context.Context, cursor string) error {
	f.cursor = &cursor
	f.setCalls++
	return nil
}

// fakeProcessor fails the event IDs in failing, skips the IDs in seen, and
// succeeds everything else (recording it in seen).
type fakeProcessor struct {
	failing map[string]bool
	seen    map[string]bool
	calls   []string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{failing: map[string]bool{}, seen: map[string]bool{}}
}

func (f *fakeProcessor) Process(ctx context.Context, eventID string, raw json.RawMessage, source domain.Source) domain.Result {
	f.calls = append(f.calls, eventID)
	if f.seen[eventID] {
		return domain.Result{Success: true, Skipped: true}
	}
	if f.failing[eventID] {
		return domain.Result{Success: false, Error: "handler failed"}
	}
	f.seen[eventID] = true
	return domain.Result{Success: true}
}

type fakeDeadLetters struct {
	records []store.DeadLetterRecord
}

func (f *fakeDeadLetters) InsertDeadLetter(ctx context.Context, rec store.DeadLetterRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func setupPoller(t *testing.T, events []domain.ExternalEvent) (*Poller, *fakeLister, *fakeCursors, *fakeProcessor, *fakeDeadLetters) {
	t.Helper()
	lister := &fakeLister{events: events}
	cursors := &fakeCursors{}
	proc := newFakeProcessor()
	dls := &fakeDeadLetters{}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := New(lister, cursors, proc, dls, time.Minute, 100, logger)
	return p, lister, cursors, proc, dls
}

func mkEvents(ids ...string) []domain.ExternalEvent {
	events := make([]domain.ExternalEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, domain.ExternalEvent{
			ID:    id,
			Event: domain.EventUserCreated,
			Data:  json.RawMessage(`{"id":"user-1"}`),
		})
	}
	return events
}

func TestPoll_ProcessesPageAndAdvancesCursor(t *testing.T) {
	p, lister, cursors, proc, _ := setupPoller(t, mkEvents("evt-1", "evt-2", "evt-3"))
	ctx := context.Background()

	result, err := p.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if result.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", result.Processed)
	}
	if result.NewCursor != "evt-3" {
		t.Errorf("expected cursor evt-3, got %q", result.NewCursor)
	}
	if cursors.cursor == nil || *cursors.cursor != "evt-3" {
		t.Error("cursor was not persisted")
	}

	// Events must be processed in delivery order.
	want := []string{"evt-1", "evt-2", "evt-3"}
	for i, id := range want {
		if proc.calls[i] != id {
			t.Errorf("call %d: expected %s, got %s", i, id, proc.calls[i])
		}
	}

	// The poller only asks for the event types it can handle.
	if len(lister.lastTypes) != len(domain.HandledEventTypes) {
		t.Errorf("expected %d event type filters, got %d", len(domain.HandledEventTypes), len(lister.lastTypes))
	}
}

func TestPoll_EmptyPage_DoesNotTouchCursor(t *testing.T) {
	p, _, cursors, _, _ := setupPoller(t, nil)
	start := "evt-0"
	cursors.cursor = &start

	result, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if result.Processed != 0 || result.NewCursor != "" {
		t.Errorf("expected empty result, got %+v", result)
	}
	if cursors.setCalls != 0 {
		t.Error("cursor must not be rewritten on an empty page")
	}
}

func TestPoll_FailingEvent_DoesNotStopBatchOrCursor(t *testing.T) {
	p, _, cursors, proc, dls := setupPoller(t, mkEvents("evt-1", "evt-2", "evt-3"))
	proc.failing["evt-2"] = true

	result, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if result.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", result.Processed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(result.Errors))
	}

	// Cursor still advances past the whole page, including the failure.
	if cursors.cursor == nil || *cursors.cursor != "evt-3" {
		t.Error("cursor must advance past a failing event")
	}

	// The failure is preserved as a dead letter, since nothing will offer
	// this event again.
	if len(dls.records) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dls.records))
	}
	rec := dls.records[0]
	if rec.EntityType != domain.EntityEvent {
		t.Errorf("expected entity type %q, got %q", domain.EntityEvent, rec.EntityType)
	}
	if rec.EntityID != "evt-2" {
		t.Errorf("expected entity id evt-2, got %q", rec.EntityID)
	}
	if !rec.Retryable {
		t.Error("poll-path dead letters should be retryable via the intake queue")
	}
}

func TestPoll_RecoversDroppedWebhook(t *testing.T) {
	// evt-1 and evt-3 already arrived via webhook; evt-2 was dropped. The
	// poll cycle must fill exactly the gap.
	p, _, _, proc, _ := setupPoller(t, mkEvents("evt-1", "evt-2", "evt-3"))
	proc.seen["evt-1"] = true
	proc.seen["evt-3"] = true

	result, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if result.Processed != 1 {
		t.Errorf("expected 1 processed (the dropped event), got %d", result.Processed)
	}
	if result.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", result.Skipped)
	}
}

func TestPoll_PassesCursorToLister(t *testing.T) {
	p, lister, cursors, _, _ := setupPoller(t, nil)
	start := "evt-42"
	cursors.cursor = &start

	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if lister.lastAfter == nil || *lister.lastAfter != "evt-42" {
		t.Error("poll must list events strictly after the stored cursor")
	}
}

func TestPoll_RespectsPageSize(t *testing.T) {
	lister := &fakeLister{events: mkEvents("evt-1", "evt-2", "evt-3", "evt-4")}
	cursors := &fakeCursors{}
	proc := newFakeProcessor()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	p := New(lister, cursors, proc, &fakeDeadLetters{}, time.Minute, 2, logger)

	result, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if result.Processed != 2 {
		t.Errorf("expected page of 2, got %d processed", result.Processed)
	}
	if result.NewCursor != "evt-2" {
		t.Errorf("cursor should stop at end of page, got %q", result.NewCursor)
	}
}
