package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fitmenthq/eventpipe/internal/billing"
	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// BillingReconciler is the subset of the reconciler the HTTP surface needs.
type BillingReconciler interface {
	HandleWebhookEvent(ctx context.Context, eventID, eventType, customerID string) error
	SyncForCustomer(ctx context.Context, customerID string) error
	RegisterPendingCheckout(ctx context.Context, orgID, customerID, sessionID, priceID string) error
	CanDeleteOrganization(ctx context.Context, orgID string) error
}

// BillingWebhookHandler receives the payment processor's signed event
// envelope. One shared secret guards the endpoint; once a request is
// authenticated the response is always 200, even if reconciliation fails —
// the failure is not sender-fixable and a non-200 would only trigger a
// retry storm.
type BillingWebhookHandler struct {
	reconciler BillingReconciler
	secret     string
	logger     *slog.Logger
}

func NewBillingWebhookHandler(reconciler BillingReconciler, secret string, logger *slog.Logger) *BillingWebhookHandler {
	return &BillingWebhookHandler{
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// billingEnvelope is the processor's standard event shape. Only the event
// identity and the customer reference matter; reconciliation never applies
// the payload itself.
type billingEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Customer string `json:"customer"`
		} `json:"object"`
	} `json:"data"`
}

func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if err := billing.VerifySignature(sig, body, h.secret, billing.DefaultTolerance, time.Now()); err != nil {
		metrics.WebhooksRejectedTotal.WithLabelValues("billing").Inc()
		h.logger.Warn("billing webhook signature verification failed", "error", err)
		respondError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var env billingEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.ID == "" {
		// Authenticated but unparseable: acknowledge and log, retrying
		// cannot fix the payload.
		h.logger.Error("billing webhook has malformed envelope", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.HandleWebhookEvent(r.Context(), env.ID, env.Type, env.Data.Object.Customer); err != nil {
		h.logger.Error("billing reconciliation failed",
			"event_id", env.ID,
			"event_type", env.Type,
			"customer_id", env.Data.Object.Customer,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

// SyncCustomer is the explicit post-checkout sync trigger used by the
// application layer once a checkout session completes.
func (h *BillingWebhookHandler) SyncCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	if err := h.reconciler.SyncForCustomer(r.Context(), customerID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to sync customer")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

type checkoutRequest struct {
	OrganizationID string `json:"organization_id"`
	CustomerID     string `json:"customer_id"`
	SessionID      string `json:"session_id"`
	PriceID        string `json:"price_id"`
}

// RegisterCheckout records a freshly opened checkout session so that the
// deletion guard and later reconciliation know about the customer.
func (h *BillingWebhookHandler) RegisterCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID == "" || req.CustomerID == "" || req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "organization_id, customer_id and session_id are required")
		return
	}

	if err := h.reconciler.RegisterPendingCheckout(r.Context(), req.OrganizationID, req.CustomerID, req.SessionID, req.PriceID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to register checkout")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

// OrgDeletable answers the organization-deletion guard: 200 when deletion may
// proceed, 409 with the reason when a live subscription blocks it.
func (h *BillingWebhookHandler) OrgDeletable(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	err := h.reconciler.CanDeleteOrganization(r.Context(), orgID)
	if err == nil {
		respondJSON(w, http.StatusOK, map[string]bool{"deletable": true})
		return
	}
	if errors.Is(err, domain.ErrActiveSubscription) {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"deletable": false,
			"reason":    err.Error(),
		})
		return
	}
	respondError(w, http.StatusInternalServerError, "failed to check subscription state")
}
