package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"straxauth.org/internal/ids"
	"straxauth.org/internal/obs"
)

// Service is the user lifecycle manager: provisioning, profile and role
// changes, activation cascades and login attempt evaluation. All business
// rejections come back as typed results; only infrastructure faults are
// returned as errors.
type Service struct {
	store   Store
	creds   CredentialStore
	lockout LockoutPolicy
	now     func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithCredentialStore overrides the password backend (tests use a stub).
func WithCredentialStore(creds CredentialStore) ServiceOption {
	return func(s *Service) {
		if creds != nil {
			s.creds = creds
		}
	}
}

// WithLockoutPolicy overrides the default attempt/lockout thresholds.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) {
		if p.MaxFailedAttempts > 0 && p.LockoutDuration > 0 {
			s.lockout = p
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the lifecycle manager.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	svc := &Service{
		store:   store,
		creds:   NewBcryptCredentials(),
		lockout: DefaultLockoutPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LockoutPolicy exposes the configured thresholds to the API surface.
func (s *Service) LockoutPolicy() LockoutPolicy { return s.lockout }

// Authenticate evaluates one login attempt and persists the resulting
// counter/lockout state before returning. The user is returned only on
// Admit. An unknown email yields a generic WrongCredentials outcome so the
// endpoint does not reveal which accounts exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (LoginOutcome, *User) {
	email = normalize(email)
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginOutcome{Kind: WrongCredentials, Message: "Wrong username or password"}, nil
		}
		obs.LogError("login lookup failed", err, map[string]any{"email": email})
		return LoginOutcome{Kind: StorageFailure, Err: err}, nil
	}

	now := s.now().UTC()
	wasLocked := user.Locked(now)
	outcome, changed := s.lockout.Evaluate(user, s.creds.Verify(user.PasswordHash, password), now)
	if changed {
		if err := s.store.Users(ctx).UpdateLockout(ctx, user.ID, user.FailedAccessCount, user.LockoutEnd); err != nil {
			obs.LogError("persist lockout state failed", err, map[string]any{"user_id": user.ID})
			return LoginOutcome{Kind: StorageFailure, Err: err}, nil
		}
	}
	if outcome.Kind == LockedOut && !wasLocked {
		obs.CountLockout()
	}
	obs.CountLoginAttempt(outcome.Kind.String())

	if outcome.Kind != Admit {
		return outcome, nil
	}
	if err := s.store.Users(ctx).UpdateLastLogin(ctx, user.ID, now); err != nil {
		// Login already succeeded; a stale last-login stamp is tolerable.
		obs.LogError("persist last login failed", err, map[string]any{"user_id": user.ID})
	}
	return outcome, user
}

// LockoutStatus reports the current lockout messaging for an account
// without counting an attempt. Unknown accounts get the generic message.
func (s *Service) LockoutStatus(ctx context.Context, email string) LoginOutcome {
	user, err := s.store.Users(ctx).FindByEmail(ctx, normalize(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginOutcome{Kind: WrongCredentials, Message: "Wrong username or password"}
		}
		return LoginOutcome{Kind: StorageFailure, Err: err}
	}
	return s.lockout.Probe(user, s.now().UTC())
}

// ProvisionRootUser finds or creates the organisation named in the spec and
// creates its root user inside one transaction. The root user shares the
// organisation's id and always carries the root_user role.
func (s *Service) ProvisionRootUser(ctx context.Context, spec OrganisationSpec) (*User, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Email = normalize(spec.Email)
	if spec.Name == "" || spec.Email == "" {
		return nil, fmt.Errorf("%w: organisation name and root email are required", ErrInvalidInput)
	}
	hash, err := s.creds.Hash(spec.Password)
	if err != nil {
		return nil, err
	}

	var user *User
	err = s.store.WithinTx(ctx, func(tx Store) error {
		org, err := s.ensureOrganisation(ctx, tx, spec)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		user = &User{
			ID:                  org.ID,
			Email:               spec.Email,
			Username:            spec.Email,
			PasswordHash:        hash,
			IsActive:            true,
			IsRootUser:          true,
			IsPasswordTemporary: false,
			EmailConfirmed:      true,
			OrganisationID:      org.ID,
			AddedBy:             org.CreatedBy,
			DateAdded:           now,
			DateModified:        now,
		}
		if err := tx.Users(ctx).Create(ctx, user); err != nil {
			return err
		}
		if err := tx.RoleAssignments(ctx).Add(ctx, user.ID, RoleOrgRootUser); err != nil {
			return err
		}
		user.Roles = []string{RoleOrgRootUser.Name}
		return nil
	})
	if err != nil {
		obs.LogError("provision root user failed", err, map[string]any{"organisation": spec.Name})
		return nil, fmt.Errorf("provision root user: %w", err)
	}
	return user, nil
}

func (s *Service) ensureOrganisation(ctx context.Context, tx Store, spec OrganisationSpec) (*Organisation, error) {
	org, err := tx.Organisations(ctx).FindByName(ctx, spec.Name)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	org = &Organisation{
		ID:        spec.ID,
		Name:      spec.Name,
		Region:    spec.Region,
		Data:      spec.Data,
		CreatedBy: spec.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	if err := tx.Organisations(ctx).Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// ProvisionMemberUser creates a user under an existing organisation. The
// organisation is checked explicitly: a missing one is a clean NotFound,
// never a nil dereference. Requested roles are validated against the
// catalog and assigned idempotently.
func (s *Service) ProvisionMemberUser(ctx context.Context, organisationID string, spec UserSpec) (*User, error) {
	spec.Email = normalize(spec.Email)
	if spec.Email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	roles := make([]Role, 0, len(spec.Roles))
	for _, name := range spec.Roles {
		role, err := RoleFromName(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}

	org, err := s.store.Organisations(ctx).Find(ctx, organisationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("organisation %s: %w", organisationID, ErrNotFound)
		}
		return nil, err
	}
	hash, err := s.creds.Hash(spec.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:                  ids.New(),
		Email:               spec.Email,
		Username:            spec.Email,
		PasswordHash:        hash,
		IsActive:            true,
		IsRootUser:          spec.IsRootUser,
		IsPasswordTemporary: false,
		EmailConfirmed:      true,
		OrganisationID:      org.ID,
		AddedBy:             spec.AddedBy,
		DateAdded:           now,
		DateModified:        now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		obs.LogError("provision member user failed", err, map[string]any{"organisation_id": org.ID, "email": spec.Email})
		return nil, fmt.Errorf("provision member user: %w", err)
	}

	assignments := s.store.RoleAssignments(ctx)
	held, err := assignments.List(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if slices.Contains(held, role.Name) {
			continue
		}
		if err := assignments.Add(ctx, user.ID, role); err != nil {
			return nil, err
		}
		held = append(held, role.Name)
	}
	user.Roles = held
	return user, nil
}

// ModifyProfile updates mutable contact fields and audit stamps. It never
// touches credentials or roles.
func (s *Service) ModifyProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	user, err := s.store.Users(ctx).FindActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Email != "" {
		email := normalize(upd.Email)
		user.Email = email
		user.Username = email
	}
	user.PhoneNumber = upd.PhoneNumber
	user.ModifiedBy = upd.ModifiedBy
	user.DateModified = s.now().UTC()
	if err := s.store.Users(ctx).Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ReplaceRoles swaps the user's entire role set for the requested one.
// Every name is validated against the catalog before anything is cleared,
// so an unknown role leaves the current set intact. The swap itself is
// clear-then-set; if the add phase fails it is retried once before the
// error surfaces.
func (s *Service) ReplaceRoles(ctx context.Context, userID string, roleNames []string, modifiedBy string) error {
	roles := make([]Role, 0, len(roleNames))
	for _, name := range roleNames {
		role, err := RoleFromName(name)
		if err != nil {
			return err
		}
		roles = append(roles, role)
	}

	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}

	assignments := s.store.RoleAssignments(ctx)
	current, err := assignments.List(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(current) > 0 {
		if err := assignments.Remove(ctx, user.ID, current); err != nil {
			return err
		}
	}
	if err := s.addRoles(ctx, assignments, user.ID, roles); err != nil {
		// The clear phase already committed; retry the add phase once so a
		// transient failure does not strand the user with zero roles.
		obs.LogError("role add phase failed, retrying", err, map[string]any{"user_id": user.ID})
		if err := s.addRoles(ctx, assignments, user.ID, roles); err != nil {
			return fmt.Errorf("replace roles: %w", err)
		}
	}

	user.ModifiedBy = modifiedBy
	user.DateModified = s.now().UTC()
	return s.store.Users(ctx).Update(ctx, user)
}

func (s *Service) addRoles(ctx context.Context, assignments RoleAssignmentStore, userID string, roles []Role) error {
	for _, role := range roles {
		if err := assignments.Add(ctx, userID, role); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate soft-deletes the account: the row stays, IsActive flips off.
func (s *Service) Deactivate(ctx context.Context, actingUserID, userID string) (*User, error) {
	return s.setActive(ctx, actingUserID, userID, false)
}

// Activate re-enables a previously deactivated account.
func (s *Service) Activate(ctx context.Context, actingUserID, userID string) (*User, error) {
	return s.setActive(ctx, actingUserID, userID, true)
}

func (s *Service) setActive(ctx context.Context, actingUserID, userID string, active bool) (*User, error) {
	// Any-status lookup: reactivation must be able to see inactive rows.
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.IsActive = active
	user.ModifiedBy = actingUserID
	user.DateModified = s.now().UTC()
	if err := s.store.Users(ctx).Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeactivateOrganisation flips every user of the organisation inactive in a
// single batch commit. It returns false on any failure; false means nothing
// is guaranteed to have been saved, not partial success.
func (s *Service) DeactivateOrganisation(ctx context.Context, actingUserID, organisationID string) bool {
	return s.setOrganisationActive(ctx, actingUserID, organisationID, false)
}

// ActivateOrganisation is the inverse cascade of DeactivateOrganisation.
func (s *Service) ActivateOrganisation(ctx context.Context, actingUserID, organisationID string) bool {
	return s.setOrganisationActive(ctx, actingUserID, organisationID, true)
}

func (s *Service) setOrganisationActive(ctx context.Context, actingUserID, organisationID string, active bool) bool {
	users, err := s.store.Users(ctx).ListByOrganisation(ctx, organisationID)
	if err != nil {
		obs.LogError("organisation cascade lookup failed", err, map[string]any{"organisation_id": organisationID})
		return false
	}
	now := s.now().UTC()
	for _, user := range users {
		user.IsActive = active
		user.ModifiedBy = actingUserID
		user.DateModified = now
	}
	if err := s.store.Users(ctx).UpdateMany(ctx, users); err != nil {
		obs.LogError("organisation cascade commit failed", err, map[string]any{
			"organisation_id": organisationID,
			"active":          active,
			"users":           len(users),
		})
		return false
	}
	return true
}

// ChangePassword verifies the current password and stores a hash of the new
// one. Verification and hashing are entirely the credential store's.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.store.Users(ctx).FindActive(ctx, userID)
	if err != nil {
		return err
	}
	if !s.creds.Verify(user.PasswordHash, currentPassword) {
		return ErrPasswordMismatch
	}
	hash, err := s.creds.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash, false)
}

// Get returns an active user by id.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	user, err := s.store.Users(ctx).FindActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.withRoles(ctx, user)
}

// GetAnyStatus returns the user regardless of activation state. It exists
// as a separate operation so callers cannot accidentally widen a query:
// only the activate/deactivate paths should reach for it.
func (s *Service) GetAnyStatus(ctx context.Context, userID string) (*User, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.withRoles(ctx, user)
}

// GetByUsername returns an active user by login handle.
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	user, err := s.store.Users(ctx).FindActiveByUsername(ctx, normalize(username))
	if err != nil {
		return nil, err
	}
	return s.withRoles(ctx, user)
}

// List returns all active users.
func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.store.Users(ctx).ListActive(ctx)
}

// UsersByOrganisation returns every member of the organisation regardless
// of status; the activation cascades depend on seeing inactive users.
func (s *Service) UsersByOrganisation(ctx context.Context, organisationID string) ([]*User, error) {
	return s.store.Users(ctx).ListByOrganisation(ctx, organisationID)
}

func (s *Service) withRoles(ctx context.Context, user *User) (*User, error) {
	roles, err := s.store.RoleAssignments(ctx).List(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return user, nil
}

func normalize(v string) string {
	return strings.TrimSpace(strings.ToLower(v))
}
