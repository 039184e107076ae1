package identity

import (
	"context"
	"time"
)

// Store describes the persistence operations the identity core depends on.
// Implementations must be safe for concurrent use; counter updates follow
// last-write-wins semantics per the concurrency model.
type Store interface {
	Users(ctx context.Context) UserStore
	Organisations(ctx context.Context) OrganisationStore
	RoleAssignments(ctx context.Context) RoleAssignmentStore

	// WithinTx runs fn against a store view whose writes commit together.
	// Root-user provisioning uses it so the organisation and its root user
	// are created as one logical unit.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// UserStore manages user rows. Active-only and any-status lookups are
// distinct methods on purpose: reactivation must be able to fetch an
// inactive user, while everything else must not.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	// Find returns the user regardless of activation status.
	Find(ctx context.Context, id string) (*User, error)
	// FindActive returns the user only when IsActive is true.
	FindActive(ctx context.Context, id string) (*User, error)
	// FindByEmail returns the user regardless of activation status; the
	// login path needs inactive users to report deactivation.
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindActiveByUsername(ctx context.Context, username string) (*User, error)
	ListActive(ctx context.Context) ([]*User, error)
	// ListByOrganisation returns every member regardless of status, so
	// organisation-wide cascades reach deactivated accounts too.
	ListByOrganisation(ctx context.Context, orgID string) ([]*User, error)
	Update(ctx context.Context, u *User) error
	// UpdateMany persists the batch in a single commit. A failure means
	// nothing is guaranteed to have been saved.
	UpdateMany(ctx context.Context, users []*User) error
	UpdateLockout(ctx context.Context, id string, failedCount int, lockoutEnd *time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, temporary bool) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// OrganisationStore manages organisations.
type OrganisationStore interface {
	Create(ctx context.Context, org *Organisation) error
	Find(ctx context.Context, id string) (*Organisation, error)
	FindByName(ctx context.Context, name string) (*Organisation, error)
	// Upsert inserts or updates by id; seeding relies on it being idempotent.
	Upsert(ctx context.Context, org *Organisation) error
}

// RoleAssignmentStore manages the user/role join and the persisted catalog.
type RoleAssignmentStore interface {
	List(ctx context.Context, userID string) ([]string, error)
	// Add is idempotent: assigning a role twice is not an error.
	Add(ctx context.Context, userID string, role Role) error
	Remove(ctx context.Context, userID string, roles []string) error
	// Ensure persists the closed catalog in the given order.
	Ensure(ctx context.Context, roles []Role) error
}
