package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRefresh carries the payment processor's authoritative current
// state for one customer. Applying it overwrites the local record wholesale.
type SubscriptionRefresh struct {
	StripeCustomerID     string
	StripeSubscriptionID *string
	Status               string
	PriceID              string
	CancelAtPeriodEnd    bool
	CurrentPeriodEnd     *time.Time
}

func (s *PostgresStore) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*domain.Subscription, error) {
	return s.getSubscription(ctx, "stripe_customer_id", customerID)
}

func (s *PostgresStore) GetSubscriptionByOrg(ctx context.Context, orgID string) (*domain.Subscription, error) {
	return s.getSubscription(ctx, "organization_id", orgID)
}

func (s *PostgresStore) getSubscription(ctx context.Context, column, key string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT organization_id, stripe_customer_id, stripe_subscription_id, status, price_id,
		       cancel_at_period_end, current_period_end,
		       pending_checkout_session_id, pending_price_id, updated_at
		FROM subscriptions WHERE `+column+` = $1
	`, key).Scan(
		&sub.OrganizationID, &sub.StripeCustomerID, &sub.StripeSubscriptionID,
		&sub.Status, &sub.PriceID, &sub.CancelAtPeriodEnd, &sub.CurrentPeriodEnd,
		&sub.PendingCheckoutSessionID, &sub.PendingPriceID, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

// ApplyCustomerState performs the full-refresh overwrite for one customer
// and clears any pending-checkout state: once a real subscription exists the
// pending fields must not survive. Returns false when the customer has no
// local record (race with initial entity creation — caller drops the event).
func (s *PostgresStore) ApplyCustomerState(ctx context.Context, r SubscriptionRefresh) (bool, error) {
	res, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			stripe_subscription_id = $2,
			status = $3,
			price_id = $4,
			cancel_at_period_end = $5,
			current_period_end = $6,
			pending_checkout_session_id = NULL,
			pending_price_id = NULL,
			updated_at = NOW()
		WHERE stripe_customer_id = $1
	`, r.StripeCustomerID, r.StripeSubscriptionID, r.Status, r.PriceID,
		r.CancelAtPeriodEnd, r.CurrentPeriodEnd)
	if err != nil {
		return false, fmt.Errorf("applying customer state: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

// CreatePendingCheckout records a checkout session opened at organization
// creation time, before any processor events have arrived.
func (s *PostgresStore) CreatePendingCheckout(ctx context.Context, orgID, customerID, sessionID, priceID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (organization_id, stripe_customer_id, pending_checkout_session_id, pending_price_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (organization_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			pending_checkout_session_id = EXCLUDED.pending_checkout_session_id,
			pending_price_id = EXCLUDED.pending_price_id,
			updated_at = NOW()
	`, orgID, customerID, sessionID, priceID)
	if err != nil {
		return fmt.Errorf("creating pending checkout: %w", err)
	}
	return nil
}
