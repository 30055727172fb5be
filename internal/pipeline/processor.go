package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/metrics"
)

// Ledger is the idempotency ledger shared by the webhook and poll paths.
// It is the sole deduplication mechanism between them.
type Ledger interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// EntityStore applies idempotent upserts and deletes keyed by provider IDs.
type EntityStore interface {
	UpsertUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, id string) error
	UpsertOrganization(ctx context.Context, o domain.Organization) error
	DeleteOrganization(ctx context.Context, id string) error
	UpsertMembership(ctx context.Context, m domain.Membership) error
	DeleteMembership(ctx context.Context, id string) error
	UpsertOrgDomain(ctx context.Context, d domain.OrgDomain) error
	UpsertRole(ctx context.Context, r domain.Role) error
	DeleteRole(ctx context.Context, id string) error
}

// SyncScheduler fans a changed entity out to the analytical sink,
// fire-and-forget. engine.Queues implements it.
type SyncScheduler interface {
	ScheduleEntitySync(ctx context.Context, entityType, entityID string, op engine.SyncOp, payload json.RawMessage)
}

// SessionRevoker invalidates a deleted user's provider sessions.
type SessionRevoker interface {
	RevokeSessions(ctx context.Context, userID string) error
}

type handlerFunc func(ctx context.Context, ev domain.ExternalEvent) error

// Processor converges one external event into local state. Both delivery
// paths call it; the ledger check up front and the mark on success give
// process-at-most-once under at-least-once delivery.
type Processor struct {
	ledger   Ledger
	entities EntityStore
	syncs    SyncScheduler
	sessions SessionRevoker
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

func NewProcessor(ledger Ledger, entities EntityStore, syncs SyncScheduler, sessions SessionRevoker, logger *slog.Logger) *Processor {
	p := &Processor{
		ledger:   ledger,
		entities: entities,
		syncs:    syncs,
		sessions: sessions,
		logger:   logger,
	}

	p.handlers = map[string]handlerFunc{
		domain.EventUserCreated:        p.handleUserUpsert,
		domain.EventUserUpdated:        p.handleUserUpsert,
		domain.EventUserDeleted:        p.handleUserDeleted,
		domain.EventOrgCreated:         p.handleOrgUpsert,
		domain.EventOrgUpdated:         p.handleOrgUpsert,
		domain.EventOrgDeleted:         p.handleOrgDeleted,
		domain.EventMembershipCreated:  p.handleMembershipUpsert,
		domain.EventMembershipUpdated:  p.handleMembershipUpsert,
		domain.EventMembershipDeleted:  p.handleMembershipDeleted,
		domain.EventDomainVerified:     p.handleDomainChange,
		domain.EventDomainVerifyFailed: p.handleDomainChange,
		domain.EventRoleCreated:        p.handleRoleUpsert,
		domain.EventRoleUpdated:        p.handleRoleUpsert,
		domain.EventRoleDeleted:        p.handleRoleDeleted,
	}

	return p
}

// Process runs one event through the ledger-check → dispatch → mark
// sequence. A handler failure leaves the event unmarked so the poll
// safeguard naturally re-offers it; a ledger-read failure is returned
// rather than swallowed, since a false "already processed" would lose the
// event for good.
func (p *Processor) Process(ctx context.Context, eventID string, raw json.RawMessage, source domain.Source) domain.Result {
	processed, err := p.ledger.IsProcessed(ctx, eventID)
	if err != nil {
		return domain.Result{Success: false, Error: fmt.Sprintf("checking ledger: %v", err)}
	}
	if processed {
		metrics.EventsSkippedTotal.WithLabelValues(string(source)).Inc()
		p.logger.Debug("event already processed",
			"event_id", eventID,
			"source", source,
		)
		return domain.Result{Success: true, Skipped: true}
	}

	var ev domain.ExternalEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		metrics.EventsFailedTotal.WithLabelValues(string(source)).Inc()
		return domain.Result{Success: false, Error: fmt.Sprintf("decoding event envelope: %v", err)}
	}
	if ev.ID == "" {
		ev.ID = eventID
	}

	handler, ok := p.handlers[ev.Event]
	if !ok {
		// Forward compatibility: new upstream event types must not fail the
		// pipeline. Logged, marked, done.
		metrics.UnknownEventsTotal.Inc()
		p.logger.Info("unhandled event type, ignoring",
			"event_id", eventID,
			"event_type", ev.Event,
			"source", source,
		)
		if err := p.ledger.MarkProcessed(ctx, eventID, ev.Event); err != nil {
			return domain.Result{Success: false, Error: fmt.Sprintf("marking event processed: %v", err)}
		}
		return domain.Result{Success: true}
	}

	if err := handler(ctx, ev); err != nil {
		metrics.EventsFailedTotal.WithLabelValues(string(source)).Inc()
		p.logger.Error("event handler failed",
			"event_id", eventID,
			"event_type", ev.Event,
			"source", source,
			"error", err,
		)
		return domain.Result{Success: false, Error: err.Error()}
	}

	if err := p.ledger.MarkProcessed(ctx, eventID, ev.Event); err != nil {
		// Not marked means the poll path may run the handler again; every
		// handler is an idempotent upsert, so that is safe. Marking without
		// the work having run would not be.
		return domain.Result{Success: false, Error: fmt.Sprintf("marking event processed: %v", err)}
	}

	metrics.EventsProcessedTotal.WithLabelValues(string(source)).Inc()
	p.logger.Info("event processed",
		"event_id", eventID,
		"event_type", ev.Event,
		"source", source,
	)
	return domain.Result{Success: true}
}
