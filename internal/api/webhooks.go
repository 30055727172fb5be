package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/metrics"
)

// Webhook categories. Each has its own signing secret so a leaked secret
// for one category cannot forge events in another.
const (
	CategoryUsers       = "users"
	CategoryOrgs        = "organizations"
	CategoryMemberships = "memberships"
)

const maxWebhookBody = 1 << 20 // 1MB

// WebhookHandler receives signed identity-provider pushes. The provider
// enforces a short response-time budget and treats slow responses as
// delivery failures, so the handler's only synchronous work is verify and
// enqueue — processing happens in the intake workers.
type WebhookHandler struct {
	queues  *engine.Queues
	secrets map[string]string
	logger  *slog.Logger
}

func NewWebhookHandler(queues *engine.Queues, userSecret, orgSecret, membershipSecret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		queues: queues,
		secrets: map[string]string{
			CategoryUsers:       userSecret,
			CategoryOrgs:        orgSecret,
			CategoryMemberships: membershipSecret,
		},
		logger: logger,
	}
}

// Handle returns the endpoint for one webhook category.
func (h *WebhookHandler) Handle(category string) http.HandlerFunc {
	secret := h.secrets[category]

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		sig := r.Header.Get("X-Webhook-Signature")
		if !verifyHMAC(body, secret, sig) {
			metrics.WebhooksRejectedTotal.WithLabelValues(category).Inc()
			h.logger.Warn("webhook signature verification failed", "category", category)
			respondError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		var envelope struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.ID == "" {
			respondError(w, http.StatusBadRequest, "invalid event envelope")
			return
		}

		job := engine.IntakeJob{
			EventID: envelope.ID,
			Event:   body,
			Source:  domain.SourceWebhook,
		}
		if err := h.queues.EnqueueIntake(r.Context(), job); err != nil {
			// 5xx so the sender redelivers the whole thing.
			h.logger.Error("failed to enqueue webhook event",
				"category", category,
				"event_id", envelope.ID,
				"error", err,
			)
			respondError(w, http.StatusInternalServerError, "failed to enqueue event")
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// verifyHMAC does a constant-time check of a hex HMAC-SHA256 signature.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
