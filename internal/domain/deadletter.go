package domain

import (
	"encoding/json"
	"time"
)

// Entity types that flow through the sync workflow and can dead-letter.
const (
	EntityUser         = "user"
	EntityOrganization = "organization"
	EntitySubscription = "subscription"
	EntityEvent        = "event"
)

// DeadLetterEntry records a sync whose retry budget ran out (or that failed
// non-retryably). ResolvedAt is set exactly once, by an operator, never by
// the pipeline itself.
type DeadLetterEntry struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Error       *string         `json:"error,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
	Retryable   bool            `json:"retryable"`
	RetryCount  int             `json:"retry_count"`
	LastRetryAt *time.Time      `json:"last_retry_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy  *string         `json:"resolved_by,omitempty"`
}
