package domain

import (
	"errors"
	"time"
)

// Subscription is the local mirror of an organization's payment-processor
// state. It is only ever overwritten wholesale by billing reconciliation
// (full refresh), never delta-patched, because processor events arrive out
// of order.
type Subscription struct {
	OrganizationID       string     `json:"organization_id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty"`
	Status               string     `json:"status,omitempty"`
	PriceID              string     `json:"price_id,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`

	// Pending checkout state exists only between checkout initiation and the
	// first successful reconciliation, and is mutually exclusive with a live
	// StripeSubscriptionID.
	PendingCheckoutSessionID *string `json:"pending_checkout_session_id,omitempty"`
	PendingPriceID           *string `json:"pending_price_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ErrActiveSubscription is returned when an organization with a live,
// uncancelled subscription is about to be deleted.
var ErrActiveSubscription = errors.New("organization has an active subscription: cancel it before deleting")

// CanDelete reports whether the organization behind this subscription record
// may be deleted. A pending checkout that never completed is safe to discard;
// a live subscription must be cancelled (or at least set to cancel at period
// end) first.
func (s *Subscription) CanDelete() error {
	if s == nil || s.StripeSubscriptionID == nil {
		return nil
	}
	if s.Status == "canceled" {
		return nil
	}
	if !s.CancelAtPeriodEnd {
		return ErrActiveSubscription
	}
	return nil
}
