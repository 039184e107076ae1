package httpapi

import (
	"context"
	"slices"
	"sync"
	"time"

	"straxauth.org/internal/identity"
)

// fakeStore is a minimal in-memory identity.Store for handler tests.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*identity.User
	orgs  map[string]*identity.Organisation
	roles map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[string]*identity.User),
		orgs:  make(map[string]*identity.Organisation),
		roles: make(map[string][]string),
	}
}

func (f *fakeStore) Users(context.Context) identity.UserStore { return (*fakeUsers)(f) }
func (f *fakeStore) Organisations(context.Context) identity.OrganisationStore {
	return (*fakeOrgs)(f)
}
func (f *fakeStore) RoleAssignments(context.Context) identity.RoleAssignmentStore {
	return (*fakeRoles)(f)
}
func (f *fakeStore) WithinTx(_ context.Context, fn func(identity.Store) error) error {
	return fn(f)
}

func cloneUser(u *identity.User) *identity.User {
	c := *u
	if u.LockoutEnd != nil {
		t := *u.LockoutEnd
		c.LockoutEnd = &t
	}
	c.Roles = slices.Clone(u.Roles)
	return &c
}

type fakeUsers fakeStore

func (f *fakeUsers) Create(_ context.Context, u *identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; ok {
		return identity.ErrAlreadyExists
	}
	f.users[u.ID] = cloneUser(u)
	return nil
}

func (f *fakeUsers) Find(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return cloneUser(u), nil
}

func (f *fakeUsers) FindActive(ctx context.Context, id string) (*identity.User, error) {
	u, err := f.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeUsers) FindActiveByUsername(_ context.Context, username string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username && u.IsActive {
			return cloneUser(u), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeUsers) ListActive(_ context.Context) ([]*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*identity.User
	for _, u := range f.users {
		if u.IsActive {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (f *fakeUsers) ListByOrganisation(_ context.Context, orgID string) ([]*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*identity.User
	for _, u := range f.users {
		if u.OrganisationID == orgID {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (f *fakeUsers) Update(_ context.Context, u *identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[u.ID]; !ok {
		return identity.ErrNotFound
	}
	f.users[u.ID] = cloneUser(u)
	return nil
}

func (f *fakeUsers) UpdateMany(_ context.Context, users []*identity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range users {
		f.users[u.ID] = cloneUser(u)
	}
	return nil
}

func (f *fakeUsers) UpdateLockout(_ context.Context, id string, failedCount int, lockoutEnd *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.FailedAccessCount = failedCount
	if lockoutEnd != nil {
		t := *lockoutEnd
		u.LockoutEnd = &t
	} else {
		u.LockoutEnd = nil
	}
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string, temporary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.PasswordHash = hash
	u.IsPasswordTemporary = temporary
	return nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	t := at
	u.LastLoggedOn = &t
	return nil
}

type fakeOrgs fakeStore

func (f *fakeOrgs) Create(_ context.Context, org *identity.Organisation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orgs[org.ID]; ok {
		return identity.ErrAlreadyExists
	}
	c := *org
	f.orgs[org.ID] = &c
	return nil
}

func (f *fakeOrgs) Find(_ context.Context, id string) (*identity.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	c := *org
	return &c, nil
}

func (f *fakeOrgs) FindByName(_ context.Context, name string) (*identity.Organisation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, org := range f.orgs {
		if org.Name == name {
			c := *org
			return &c, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *fakeOrgs) Upsert(_ context.Context, org *identity.Organisation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *org
	f.orgs[org.ID] = &c
	return nil
}

type fakeRoles fakeStore

func (f *fakeRoles) List(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.roles[userID]), nil
}

func (f *fakeRoles) Add(_ context.Context, userID string, role identity.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.roles[userID], role.Name) {
		return nil
	}
	f.roles[userID] = append(f.roles[userID], role.Name)
	return nil
}

func (f *fakeRoles) Remove(_ context.Context, userID string, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []string
	for _, name := range f.roles[userID] {
		if !slices.Contains(roles, name) {
			kept = append(kept, name)
		}
	}
	f.roles[userID] = kept
	return nil
}

func (f *fakeRoles) Ensure(_ context.Context, _ []identity.Role) error { return nil }

// plainCredentials avoids bcrypt cost in handler tests.
type plainCredentials struct{}

func (plainCredentials) Hash(password string) (string, error) {
	if len(password) < 8 {
		return "", identity.ErrPasswordPolicy
	}
	return "plain:" + password, nil
}

func (plainCredentials) Verify(hash, password string) bool {
	return hash == "plain:"+password
}
