package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaymentClient struct {
	states  map[string]*CustomerState
	fetches int
	err     error
}

func (f *fakePaymentClient) GetCustomerState(ctx context.Context, customerID string) (*CustomerState, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if state, ok := f.states[customerID]; ok {
		return state, nil
	}
	return &CustomerState{CustomerID: customerID}, nil
}

type fakeSubs struct {
	byCustomer map[string]*domain.Subscription
	byOrg      map[string]*domain.Subscription
	applied    []store.SubscriptionRefresh
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{
		byCustomer: map[string]*domain.Subscription{},
		byOrg:      map[string]*domain.Subscription{},
	}
}

func (f *fakeSubs) GetSubscriptionByCustomer(ctx context.Context, customerID string) (*domain.Subscription, error) {
	return f.byCustomer[customerID], nil
}

func (f *fakeSubs) GetSubscriptionByOrg(ctx context.Context, orgID string) (*domain.Subscription, error) {
	return f.byOrg[orgID], nil
}

func (f *fakeSubs) CreatePendingCheckout(ctx context.Context, orgID, customerID, sessionID, priceID string) error {
	f.byCustomer[customerID] = &domain.Subscription{
		OrganizationID:           orgID,
		StripeCustomerID:         customerID,
		PendingCheckoutSessionID: &sessionID,
		PendingPriceID:           &priceID,
	}
	f.byOrg[orgID] = f.byCustomer[customerID]
	return nil
}

func (f *fakeSubs) ApplyCustomerState(ctx context.Context, r store.SubscriptionRefresh) (bool, error) {
	local, ok := f.byCustomer[r.StripeCustomerID]
	if !ok {
		return false, nil
	}
	f.applied = append(f.applied, r)
	local.StripeSubscriptionID = r.StripeSubscriptionID
	local.Status = r.Status
	local.PriceID = r.PriceID
	local.CancelAtPeriodEnd = r.CancelAtPeriodEnd
	local.CurrentPeriodEnd = r.CurrentPeriodEnd
	local.PendingCheckoutSessionID = nil
	local.PendingPriceID = nil
	return true, nil
}

type fakeBillingLedger struct {
	processed map[string]bool
}

func (f *fakeBillingLedger) IsBillingEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeBillingLedger) MarkBillingEventProcessed(ctx context.Context, eventID, eventType, customerID string) error {
	f.processed[eventID] = true
	return nil
}

type fakeScheduler struct {
	scheduled []string
}

func (f *fakeScheduler) ScheduleEntitySync(ctx context.Context, entityType, entityID string, op engine.SyncOp, payload json.RawMessage) {
	f.scheduled = append(f.scheduled, entityType+":"+entityID)
}

func setupReconciler(t *testing.T) (*Reconciler, *fakePaymentClient, *fakeSubs, *fakeBillingLedger, *fakeScheduler) {
	t.Helper()
	client := &fakePaymentClient{states: map[string]*CustomerState{}}
	subs := newFakeSubs()
	ledger := &fakeBillingLedger{processed: map[string]bool{}}
	syncs := &fakeScheduler{}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewReconciler(client, subs, ledger, syncs, logger), client, subs, ledger, syncs
}

func TestHandleWebhookEvent_FullRefreshOverwritesLocalState(t *testing.T) {
	r, client, subs, ledger, syncs := setupReconciler(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	subID := "sub_123"
	client.states["cus_1"] = &CustomerState{
		CustomerID: "cus_1",
		Subscription: &SubscriptionState{
			ID:               subID,
			Status:           "active",
			PriceID:          "price_pro",
			CurrentPeriodEnd: &periodEnd,
		},
	}
	subs.byCustomer["cus_1"] = &domain.Subscription{OrganizationID: "org-1", StripeCustomerID: "cus_1"}

	err := r.HandleWebhookEvent(ctx, "evt_1", "customer.subscription.updated", "cus_1")
	require.NoError(t, err)

	local := subs.byCustomer["cus_1"]
	require.NotNil(t, local.StripeSubscriptionID)
	assert.Equal(t, subID, *local.StripeSubscriptionID)
	assert.Equal(t, "active", local.Status)
	assert.Equal(t, "price_pro", local.PriceID)

	assert.True(t, ledger.processed["evt_1"])
	assert.Equal(t, []string{"subscription:org-1"}, syncs.scheduled)
}

func TestHandleWebhookEvent_DuplicateSkipsFetch(t *testing.T) {
	r, client, subs, ledger, _ := setupReconciler(t)
	ctx := context.Background()

	subs.byCustomer["cus_1"] = &domain.Subscription{OrganizationID: "org-1", StripeCustomerID: "cus_1"}
	ledger.processed["evt_1"] = true

	err := r.HandleWebhookEvent(ctx, "evt_1", "customer.subscription.updated", "cus_1")
	require.NoError(t, err)
	assert.Zero(t, client.fetches, "a replayed event must not trigger another refresh")
}

func TestHandleWebhookEvent_OutOfOrderDeliveryConverges(t *testing.T) {
	// Processor events arrive newest-first. Because every trigger is a full
	// refresh against current remote state, the outcome is order-independent.
	r, client, subs, _, _ := setupReconciler(t)
	ctx := context.Background()

	subs.byCustomer["cus_1"] = &domain.Subscription{OrganizationID: "org-1", StripeCustomerID: "cus_1"}
	subID := "sub_123"
	client.states["cus_1"] = &CustomerState{
		CustomerID:   "cus_1",
		Subscription: &SubscriptionState{ID: subID, Status: "past_due", PriceID: "price_pro"},
	}

	// "updated" (newer) arrives before "created" (older).
	require.NoError(t, r.HandleWebhookEvent(ctx, "evt_2", "customer.subscription.updated", "cus_1"))
	require.NoError(t, r.HandleWebhookEvent(ctx, "evt_1", "customer.subscription.created", "cus_1"))

	assert.Equal(t, "past_due", subs.byCustomer["cus_1"].Status,
		"local state must reflect remote truth regardless of event arrival order")
}

func TestHandleWebhookEvent_NoCustomer_MarkedWithoutRefresh(t *testing.T) {
	r, client, _, ledger, _ := setupReconciler(t)

	err := r.HandleWebhookEvent(context.Background(), "evt_1", "product.updated", "")
	require.NoError(t, err)
	assert.Zero(t, client.fetches)
	assert.True(t, ledger.processed["evt_1"])
}

func TestHandleWebhookEvent_FetchFailure_LeavesEventUnmarked(t *testing.T) {
	r, client, subs, ledger, _ := setupReconciler(t)
	subs.byCustomer["cus_1"] = &domain.Subscription{OrganizationID: "org-1", StripeCustomerID: "cus_1"}
	client.err = errors.New("processor unavailable")

	err := r.HandleWebhookEvent(context.Background(), "evt_1", "customer.subscription.updated", "cus_1")
	require.Error(t, err)
	assert.False(t, ledger.processed["evt_1"], "a failed refresh must stay unmarked so redelivery retries it")
}

func TestSyncForCustomer_UnknownCustomerDropped(t *testing.T) {
	r, _, subs, _, syncs := setupReconciler(t)

	err := r.SyncForCustomer(context.Background(), "cus_ghost")
	require.NoError(t, err, "an unknown customer is dropped, not an error")
	assert.Empty(t, subs.applied)
	assert.Empty(t, syncs.scheduled)
}

func TestSyncForCustomer_NoRemoteSubscription_ClearsLocalState(t *testing.T) {
	r, _, subs, _, _ := setupReconciler(t)
	ctx := context.Background()

	subID := "sub_old"
	sessionID := "cs_pending"
	subs.byCustomer["cus_1"] = &domain.Subscription{
		OrganizationID:           "org-1",
		StripeCustomerID:         "cus_1",
		StripeSubscriptionID:     &subID,
		Status:                   "active",
		PendingCheckoutSessionID: &sessionID,
	}

	require.NoError(t, r.SyncForCustomer(ctx, "cus_1"))

	local := subs.byCustomer["cus_1"]
	assert.Nil(t, local.StripeSubscriptionID, "remote has no subscription, local mirror must agree")
	assert.Nil(t, local.PendingCheckoutSessionID, "reconciliation clears pending checkout state")
}

func TestRegisterPendingCheckout_ThenFirstRefreshClearsIt(t *testing.T) {
	r, client, subs, _, _ := setupReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterPendingCheckout(ctx, "org-1", "cus_1", "cs_1", "price_pro"))

	// While the checkout is pending, the org is still deletable.
	assert.NoError(t, r.CanDeleteOrganization(ctx, "org-1"))

	// Checkout completes; the processor now reports a live subscription.
	subID := "sub_new"
	client.states["cus_1"] = &CustomerState{
		CustomerID:   "cus_1",
		Subscription: &SubscriptionState{ID: subID, Status: "active", PriceID: "price_pro"},
	}
	require.NoError(t, r.SyncForCustomer(ctx, "cus_1"))

	local := subs.byCustomer["cus_1"]
	assert.Nil(t, local.PendingCheckoutSessionID)
	assert.Nil(t, local.PendingPriceID)
	require.NotNil(t, local.StripeSubscriptionID)

	// Now the live subscription blocks deletion.
	assert.ErrorIs(t, r.CanDeleteOrganization(ctx, "org-1"), domain.ErrActiveSubscription)
}

func TestCanDeleteOrganization(t *testing.T) {
	subID := "sub_123"

	tests := []struct {
		name    string
		sub     *domain.Subscription
		wantErr bool
	}{
		{"no billing record", nil, false},
		{"pending checkout only", &domain.Subscription{OrganizationID: "org-1"}, false},
		{"active subscription", &domain.Subscription{StripeSubscriptionID: &subID, Status: "active"}, true},
		{"canceled subscription", &domain.Subscription{StripeSubscriptionID: &subID, Status: "canceled"}, false},
		{"cancel at period end", &domain.Subscription{StripeSubscriptionID: &subID, Status: "active", CancelAtPeriodEnd: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, subs, _, _ := setupReconciler(t)
			if tt.sub != nil {
				subs.byOrg["org-1"] = tt.sub
			}

			err := r.CanDeleteOrganization(context.Background(), "org-1")
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrActiveSubscription)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
