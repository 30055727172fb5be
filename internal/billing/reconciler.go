package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/metrics"
	"github.com/fitmenthq/eventpipe/internal/store"
)

// Ledger is the payment-processor-side idempotency ledger. It is separate
// from the identity ledger so repeated delivery of the same processor event
// is a no-op before the full-refresh fetch is attempted.
type Ledger interface {
	IsBillingEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkBillingEventProcessed(ctx context.Context, eventID, eventType, customerID string) error
}

// SubscriptionStore holds the local billing state.
type SubscriptionStore interface {
	GetSubscriptionByCustomer(ctx context.Context, customerID string) (*domain.Subscription, error)
	GetSubscriptionByOrg(ctx context.Context, orgID string) (*domain.Subscription, error)
	ApplyCustomerState(ctx context.Context, r store.SubscriptionRefresh) (bool, error)
	CreatePendingCheckout(ctx context.Context, orgID, customerID, sessionID, priceID string) error
}

// SyncScheduler fans the refreshed subscription out to the analytical sink.
type SyncScheduler interface {
	ScheduleEntitySync(ctx context.Context, entityType, entityID string, op engine.SyncOp, payload json.RawMessage)
}

// Reconciler converges local billing state with the payment processor by
// full-state refresh: every trigger re-fetches the customer's complete
// current state and overwrites the local record wholesale. Delta-apply is
// deliberately avoided — processor events arrive out of order, and applying
// them in arrival order would corrupt state.
type Reconciler struct {
	client PaymentClient
	subs   SubscriptionStore
	ledger Ledger
	syncs  SyncScheduler
	logger *slog.Logger
}

func NewReconciler(client PaymentClient, subs SubscriptionStore, ledger Ledger, syncs SyncScheduler, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		client: client,
		subs:   subs,
		ledger: ledger,
		syncs:  syncs,
		logger: logger,
	}
}

// HandleWebhookEvent runs one authenticated processor event through the
// ledger and, if new, a full refresh for its customer. The event payload
// itself is never applied — only its customer ID matters.
func (r *Reconciler) HandleWebhookEvent(ctx context.Context, eventID, eventType, customerID string) error {
	processed, err := r.ledger.IsBillingEventProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("checking billing ledger: %w", err)
	}
	if processed {
		r.logger.Debug("billing event already processed", "event_id", eventID)
		return nil
	}

	if customerID == "" {
		// Events without a customer (e.g. product catalog changes) carry
		// nothing to reconcile.
		r.logger.Info("billing event has no customer, ignoring",
			"event_id", eventID,
			"event_type", eventType,
		)
		return r.ledger.MarkBillingEventProcessed(ctx, eventID, eventType, "")
	}

	if err := r.SyncForCustomer(ctx, customerID); err != nil {
		return err
	}

	return r.ledger.MarkBillingEventProcessed(ctx, eventID, eventType, customerID)
}

// SyncForCustomer fetches the customer's authoritative current subscription
// state and overwrites the local record. A customer with no local record
// yet (race with initial organization creation) is logged and dropped; the
// next genuine event for that customer self-corrects via full refresh.
func (r *Reconciler) SyncForCustomer(ctx context.Context, customerID string) error {
	state, err := r.client.GetCustomerState(ctx, customerID)
	if err != nil {
		return fmt.Errorf("fetching customer state: %w", err)
	}

	refresh := store.SubscriptionRefresh{StripeCustomerID: customerID}
	if sub := state.Subscription; sub != nil {
		refresh.StripeSubscriptionID = &sub.ID
		refresh.Status = sub.Status
		refresh.PriceID = sub.PriceID
		refresh.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		refresh.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}

	applied, err := r.subs.ApplyCustomerState(ctx, refresh)
	if err != nil {
		return fmt.Errorf("applying customer state: %w", err)
	}
	if !applied {
		r.logger.Warn("no local record for customer, dropping refresh",
			"customer_id", customerID,
		)
		return nil
	}

	metrics.BillingRefreshesTotal.Inc()
	r.logger.Info("billing state refreshed", "customer_id", customerID)

	local, err := r.subs.GetSubscriptionByCustomer(ctx, customerID)
	if err != nil || local == nil {
		// The refresh landed; a missed fan-out only delays analytics.
		return nil
	}

	payload, _ := json.Marshal(local)
	r.syncs.ScheduleEntitySync(ctx, domain.EntitySubscription, local.OrganizationID, engine.OpUpsert, payload)
	return nil
}

// RegisterPendingCheckout records a checkout session opened for an
// organization before any processor events exist for its customer. The
// pending fields survive until the first successful refresh clears them.
func (r *Reconciler) RegisterPendingCheckout(ctx context.Context, orgID, customerID, sessionID, priceID string) error {
	if err := r.subs.CreatePendingCheckout(ctx, orgID, customerID, sessionID, priceID); err != nil {
		return fmt.Errorf("registering pending checkout: %w", err)
	}

	r.logger.Info("pending checkout registered",
		"organization_id", orgID,
		"customer_id", customerID,
		"session_id", sessionID,
	)
	return nil
}

// CanDeleteOrganization enforces the deletion guard: a pending checkout
// that never completed is safe to discard, an active subscription must be
// cancelled first.
func (r *Reconciler) CanDeleteOrganization(ctx context.Context, orgID string) error {
	sub, err := r.subs.GetSubscriptionByOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("looking up subscription: %w", err)
	}
	return sub.CanDelete()
}
