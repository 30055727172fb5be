package domain

import (
	"encoding/json"
	"time"
)

// Source identifies which delivery path handed an event to the processor.
// It is diagnostic only — both paths go through the same idempotency ledger.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Identity-provider event types handled by the pipeline. Anything outside
// this set is logged and treated as a no-op success.
const (
	EventUserCreated        = "user.created"
	EventUserUpdated        = "user.updated"
	EventUserDeleted        = "user.deleted"
	EventOrgCreated         = "organization.created"
	EventOrgUpdated         = "organization.updated"
	EventOrgDeleted         = "organization.deleted"
	EventMembershipCreated  = "organization_membership.created"
	EventMembershipUpdated  = "organization_membership.updated"
	EventMembershipDeleted  = "organization_membership.deleted"
	EventDomainVerified     = "organization_domain.verified"
	EventDomainVerifyFailed = "organization_domain.verification_failed"
	EventRoleCreated        = "role.created"
	EventRoleUpdated        = "role.updated"
	EventRoleDeleted        = "role.deleted"
)

// HandledEventTypes is the closed set the poller asks the provider for.
var HandledEventTypes = []string{
	EventUserCreated, EventUserUpdated, EventUserDeleted,
	EventOrgCreated, EventOrgUpdated, EventOrgDeleted,
	EventMembershipCreated, EventMembershipUpdated, EventMembershipDeleted,
	EventDomainVerified, EventDomainVerifyFailed,
	EventRoleCreated, EventRoleUpdated, EventRoleDeleted,
}

// ExternalEvent is the provider's webhook/list envelope.
type ExternalEvent struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// ProcessedEvent is one row in the idempotency ledger. At most one row per
// event ID ever exists; rows are never mutated, only swept by retention.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Result reports the outcome of processing a single external event.
type Result struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}
