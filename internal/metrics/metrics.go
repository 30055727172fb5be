package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_processed_total",
		Help: "External events processed successfully, by delivery source",
	}, []string{"source"})

	EventsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_skipped_total",
		Help: "External events skipped as already processed, by delivery source",
	}, []string{"source"})

	EventsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_failed_total",
		Help: "External events whose handler failed, by delivery source",
	}, []string{"source"})

	UnknownEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_unknown_events_total",
		Help: "Events with an unhandled type, accepted as no-ops",
	})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_webhooks_rejected_total",
		Help: "Inbound webhooks rejected on signature verification, by category",
	}, []string{"category"})

	PollBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_poll_batches_total",
		Help: "Poll cycles that fetched at least one event",
	})

	SyncAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_sync_attempts_total",
		Help: "Sync workflow attempts against the analytical sink",
	})

	SyncRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_sync_retries_total",
		Help: "Sync attempts rescheduled with backoff",
	})

	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_dead_letters_total",
		Help: "Syncs written to the dead letter queue, by entity type",
	}, []string{"entity_type"})

	BillingRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_billing_refreshes_total",
		Help: "Full-state billing refreshes applied",
	})
)
