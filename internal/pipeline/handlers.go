package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/fitmenthq/eventpipe/internal/engine"
)

// Handlers below are all idempotent by construction: every write is an
// upsert or delete keyed by the provider's ID. Concurrent webhook and poll
// delivery may run a handler twice; final state is the same either way.

func (p *Processor) handleUserUpsert(ctx context.Context, ev domain.ExternalEvent) error {
	var u domain.User
	if err := json.Unmarshal(ev.Data, &u); err != nil {
		return fmt.Errorf("decoding user payload: %w", err)
	}
	if u.ID == "" {
		return fmt.Errorf("user event %s has no user id", ev.ID)
	}

	if err := p.entities.UpsertUser(ctx, u); err != nil {
		return err
	}

	payload, _ := json.Marshal(u)
	p.syncs.ScheduleEntitySync(ctx, domain.EntityUser, u.ID, engine.OpUpsert, payload)
	return nil
}

func (p *Processor) handleUserDeleted(ctx context.Context, ev domain.ExternalEvent) error {
	var u domain.User
	if err := json.Unmarshal(ev.Data, &u); err != nil {
		return fmt.Errorf("decoding user payload: %w", err)
	}
	if u.ID == "" {
		return fmt.Errorf("user event %s has no user id", ev.ID)
	}

	// Revoke first: if revocation fails the event stays unmarked and the
	// poll path retries the whole handler, which is safe to repeat.
	if err := p.sessions.RevokeSessions(ctx, u.ID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	if err := p.entities.DeleteUser(ctx, u.ID); err != nil {
		return err
	}

	p.syncs.ScheduleEntitySync(ctx, domain.EntityUser, u.ID, engine.OpDelete, nil)
	return nil
}

func (p *Processor) handleOrgUpsert(ctx context.Context, ev domain.ExternalEvent) error {
	var o domain.Organization
	if err := json.Unmarshal(ev.Data, &o); err != nil {
		return fmt.Errorf("decoding organization payload: %w", err)
	}
	if o.ID == "" {
		return fmt.Errorf("organization event %s has no organization id", ev.ID)
	}

	if err := p.entities.UpsertOrganization(ctx, o); err != nil {
		return err
	}

	payload, _ := json.Marshal(o)
	p.syncs.ScheduleEntitySync(ctx, domain.EntityOrganization, o.ID, engine.OpUpsert, payload)
	return nil
}

func (p *Processor) handleOrgDeleted(ctx context.Context, ev domain.ExternalEvent) error {
	var o domain.Organization
	if err := json.Unmarshal(ev.Data, &o); err != nil {
		return fmt.Errorf("decoding organization payload: %w", err)
	}
	if o.ID == "" {
		return fmt.Errorf("organization event %s has no organization id", ev.ID)
	}

	if err := p.entities.DeleteOrganization(ctx, o.ID); err != nil {
		return err
	}

	p.syncs.ScheduleEntitySync(ctx, domain.EntityOrganization, o.ID, engine.OpDelete, nil)
	return nil
}

// membershipPayload matches the provider's membership event data, where the
// role arrives as a nested object.
type membershipPayload struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Status         string `json:"status"`
	Role           struct {
		Slug string `json:"slug"`
	} `json:"role"`
}

func (p *Processor) handleMembershipUpsert(ctx context.Context, ev domain.ExternalEvent) error {
	var m membershipPayload
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return fmt.Errorf("decoding membership payload: %w", err)
	}
	if m.ID == "" {
		return fmt.Errorf("membership event %s has no membership id", ev.ID)
	}

	return p.entities.UpsertMembership(ctx, domain.Membership{
		ID:             m.ID,
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		RoleSlug:       m.Role.Slug,
		Status:         m.Status,
	})
}

func (p *Processor) handleMembershipDeleted(ctx context.Context, ev domain.ExternalEvent) error {
	var m membershipPayload
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return fmt.Errorf("decoding membership payload: %w", err)
	}
	if m.ID == "" {
		return fmt.Errorf("membership event %s has no membership id", ev.ID)
	}
	return p.entities.DeleteMembership(ctx, m.ID)
}

func (p *Processor) handleDomainChange(ctx context.Context, ev domain.ExternalEvent) error {
	var d domain.OrgDomain
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		return fmt.Errorf("decoding domain payload: %w", err)
	}
	if d.ID == "" {
		return fmt.Errorf("domain event %s has no domain id", ev.ID)
	}

	if ev.Event == domain.EventDomainVerified {
		d.State = "verified"
	} else {
		d.State = "failed"
	}
	return p.entities.UpsertOrgDomain(ctx, d)
}

func (p *Processor) handleRoleUpsert(ctx context.Context, ev domain.ExternalEvent) error {
	var r domain.Role
	if err := json.Unmarshal(ev.Data, &r); err != nil {
		return fmt.Errorf("decoding role payload: %w", err)
	}
	// Role events are keyed by slug when the provider omits an id.
	if r.ID == "" {
		r.ID = r.Slug
	}
	if r.ID == "" {
		return fmt.Errorf("role event %s has no role id or slug", ev.ID)
	}
	return p.entities.UpsertRole(ctx, r)
}

func (p *Processor) handleRoleDeleted(ctx context.Context, ev domain.ExternalEvent) error {
	var r domain.Role
	if err := json.Unmarshal(ev.Data, &r); err != nil {
		return fmt.Errorf("decoding role payload: %w", err)
	}
	if r.ID == "" {
		r.ID = r.Slug
	}
	if r.ID == "" {
		return fmt.Errorf("role event %s has no role id or slug", ev.ID)
	}
	return p.entities.DeleteRole(ctx, r.ID)
}
