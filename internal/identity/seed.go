package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SeedConfig carries the bootstrap identifiers and credentials. Nothing in
// here is hard-coded: deployments pass their own ids so repeated runs
// upsert the same rows.
type SeedConfig struct {
	OrganisationID   string
	OrganisationName string
	Region           string

	SuperAdminID       string
	SuperAdminEmail    string
	SuperAdminPassword string

	ServiceUserID       string
	ServiceUserEmail    string
	ServiceUserPassword string
}

func (c SeedConfig) validate() error {
	switch {
	case c.OrganisationID == "" || c.OrganisationName == "":
		return fmt.Errorf("%w: seed organisation id and name are required", ErrInvalidInput)
	case c.SuperAdminID == "" || c.SuperAdminEmail == "" || c.SuperAdminPassword == "":
		return fmt.Errorf("%w: seed super admin id, email and password are required", ErrInvalidInput)
	}
	return nil
}

// Seed bootstraps the role catalog, the primary organisation, the super
// admin and (optionally) the service account. Every step upserts by id, so
// running it on every start is safe.
func Seed(ctx context.Context, store Store, creds CredentialStore, cfg SeedConfig, now func() time.Time) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if now == nil {
		now = time.Now
	}
	ts := now().UTC()

	if err := store.RoleAssignments(ctx).Ensure(ctx, Roles()); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	org := &Organisation{
		ID:        cfg.OrganisationID,
		Name:      cfg.OrganisationName,
		Region:    cfg.Region,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := store.Organisations(ctx).Upsert(ctx, org); err != nil {
		return fmt.Errorf("seed organisation: %w", err)
	}

	if err := seedUser(ctx, store, creds, seededUser{
		id:       cfg.SuperAdminID,
		email:    cfg.SuperAdminEmail,
		password: cfg.SuperAdminPassword,
		orgID:    cfg.OrganisationID,
		role:     RoleSuperAdmin,
	}, ts); err != nil {
		return fmt.Errorf("seed super admin: %w", err)
	}

	if cfg.ServiceUserID != "" {
		if err := seedUser(ctx, store, creds, seededUser{
			id:       cfg.ServiceUserID,
			email:    cfg.ServiceUserEmail,
			password: cfg.ServiceUserPassword,
			orgID:    cfg.OrganisationID,
			role:     RoleStraxService,
		}, ts); err != nil {
			return fmt.Errorf("seed service user: %w", err)
		}
	}
	return nil
}

type seededUser struct {
	id       string
	email    string
	password string
	orgID    string
	role     Role
}

func seedUser(ctx context.Context, store Store, creds CredentialStore, su seededUser, ts time.Time) error {
	users := store.Users(ctx)
	existing, err := users.Find(ctx, su.id)
	if err == nil {
		// Already provisioned; only make sure the role is present.
		return store.RoleAssignments(ctx).Add(ctx, existing.ID, su.role)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := creds.Hash(su.password)
	if err != nil {
		return err
	}
	email := normalize(su.email)
	user := &User{
		ID:             su.id,
		Email:          email,
		Username:       email,
		PasswordHash:   hash,
		IsActive:       true,
		EmailConfirmed: true,
		OrganisationID: su.orgID,
		DateAdded:      ts,
		DateModified:   ts,
	}
	if err := users.Create(ctx, user); err != nil {
		return err
	}
	return store.RoleAssignments(ctx).Add(ctx, user.ID, su.role)
}
