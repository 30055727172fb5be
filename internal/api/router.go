package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(
	webhooks *WebhookHandler,
	billingWebhooks *BillingWebhookHandler,
	deadLetters *DeadLetterHandler,
	cursors *CursorHandler,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Inbound webhooks
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/identity/users", webhooks.Handle(CategoryUsers))
		r.Post("/identity/organizations", webhooks.Handle(CategoryOrgs))
		r.Post("/identity/memberships", webhooks.Handle(CategoryMemberships))
		r.Post("/billing/events", billingWebhooks.Handle)
	})

	// Operator API
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", deadLetters.List)
			r.Get("/{id}", deadLetters.Get)
			r.Post("/{id}/resolve", deadLetters.Resolve)
			r.Post("/{id}/retry", deadLetters.Retry)
		})

		r.Get("/cursor", cursors.Get)
		r.Post("/cursor/reset", cursors.Reset)
		r.Post("/poll", cursors.TriggerPoll)

		r.Post("/billing/sync/{customerID}", billingWebhooks.SyncCustomer)
		r.Post("/billing/checkout", billingWebhooks.RegisterCheckout)
		r.Get("/organizations/{orgID}/deletable", billingWebhooks.OrgDeletable)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
