package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitmenthq/eventpipe/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Every write here is an upsert or delete keyed by the provider's own ID.
// Webhook and poll delivery of the same event, in any order, converge on the
// same row.

func (s *PostgresStore) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, email_verified, profile_picture_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email_verified = EXCLUDED.email_verified,
			profile_picture_url = EXCLUDED.profile_picture_url,
			updated_at = NOW()
	`, u.ID, u.Email, u.FirstName, u.LastName, u.EmailVerified, u.ProfilePictureURL)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, email_verified, profile_picture_url, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.EmailVerified,
		&u.ProfilePictureURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UpsertOrganization(ctx context.Context, o domain.Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = NOW()
	`, o.ID, o.Name)
	if err != nil {
		return fmt.Errorf("upserting organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM organizations WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	var o domain.Organization
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, created_at, updated_at FROM organizations WHERE id = $1", id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying organization: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, m domain.Membership) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (id, user_id, organization_id, role_slug, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			organization_id = EXCLUDED.organization_id,
			role_slug = EXCLUDED.role_slug,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, m.ID, m.UserID, m.OrganizationID, m.RoleSlug, m.Status)
	if err != nil {
		return fmt.Errorf("upserting membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM memberships WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertOrgDomain(ctx context.Context, d domain.OrgDomain) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO org_domains (id, organization_id, domain, state, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			domain = EXCLUDED.domain,
			state = EXCLUDED.state,
			updated_at = NOW()
	`, d.ID, d.OrganizationID, d.Domain, d.State)
	if err != nil {
		return fmt.Errorf("upserting org domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertRole(ctx context.Context, r domain.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (id, slug, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			updated_at = NOW()
	`, r.ID, r.Slug, r.Name, r.Description)
	if err != nil {
		return fmt.Errorf("upserting role: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM roles WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return nil
}
