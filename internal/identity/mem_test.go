package identity

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// memStore is an in-memory Store used by the lifecycle and seeding tests.
// Failure hooks simulate storage faults on specific operations.
type memStore struct {
	mu    sync.Mutex
	users map[string]*User
	orgs  map[string]*Organisation
	roles map[string][]string // userID -> role names
	seeds []Role

	failUpdateLockout bool
	failUpdateMany    bool
	failAddRoles      int // fail this many Add calls, then succeed
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*User),
		orgs:  make(map[string]*Organisation),
		roles: make(map[string][]string),
	}
}

var errStorage = errors.New("storage unavailable")

func (m *memStore) Users(context.Context) UserStore { return (*memUsers)(m) }
func (m *memStore) Organisations(context.Context) OrganisationStore {
	return (*memOrgs)(m)
}
func (m *memStore) RoleAssignments(context.Context) RoleAssignmentStore {
	return (*memRoles)(m)
}

func (m *memStore) WithinTx(_ context.Context, fn func(Store) error) error {
	// No isolation: good enough for exercising the provisioning flow.
	return fn(m)
}

func copyUser(u *User) *User {
	c := *u
	if u.LockoutEnd != nil {
		t := *u.LockoutEnd
		c.LockoutEnd = &t
	}
	c.Roles = slices.Clone(u.Roles)
	return &c
}

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrAlreadyExists
		}
	}
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *memUsers) FindActive(ctx context.Context, id string) (*User, error) {
	u, err := m.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindActiveByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username && u.IsActive {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ListActive(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.IsActive {
			out = append(out, copyUser(u))
		}
	}
	return out, nil
}

func (m *memUsers) ListByOrganisation(_ context.Context, orgID string) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if u.OrganisationID == orgID {
			out = append(out, copyUser(u))
		}
	}
	return out, nil
}

func (m *memUsers) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *memUsers) UpdateMany(_ context.Context, users []*User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateMany {
		return errStorage
	}
	for _, u := range users {
		m.users[u.ID] = copyUser(u)
	}
	return nil
}

func (m *memUsers) UpdateLockout(_ context.Context, id string, failedCount int, lockoutEnd *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateLockout {
		return errStorage
	}
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
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

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string, temporary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.IsPasswordTemporary = temporary
	return nil
}

func (m *memUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLoggedOn = &t
	return nil
}

type memOrgs memStore

func (m *memOrgs) Create(_ context.Context, org *Organisation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.ID]; ok {
		return ErrAlreadyExists
	}
	c := *org
	m.orgs[org.ID] = &c
	return nil
}

func (m *memOrgs) Find(_ context.Context, id string) (*Organisation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *org
	return &c, nil
}

func (m *memOrgs) FindByName(_ context.Context, name string) (*Organisation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.Name == name {
			c := *org
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrgs) Upsert(_ context.Context, org *Organisation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *org
	m.orgs[org.ID] = &c
	return nil
}

type memRoles memStore

func (m *memRoles) List(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.roles[userID]), nil
}

func (m *memRoles) Add(_ context.Context, userID string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAddRoles > 0 {
		m.failAddRoles--
		return errStorage
	}
	if slices.Contains(m.roles[userID], role.Name) {
		return nil
	}
	m.roles[userID] = append(m.roles[userID], role.Name)
	return nil
}

func (m *memRoles) Remove(_ context.Context, userID string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.roles[userID]
	var kept []string
	for _, name := range held {
		if !slices.Contains(roles, name) {
			kept = append(kept, name)
		}
	}
	m.roles[userID] = kept
	return nil
}

func (m *memRoles) Ensure(_ context.Context, roles []Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = slices.Clone(roles)
	return nil
}

// stubCredentials is a deterministic, non-cryptographic credential store.
type stubCredentials struct{}

func (stubCredentials) Hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordPolicy
	}
	return "stub:" + password, nil
}

func (stubCredentials) Verify(hash, password string) bool {
	return hash == "stub:"+password
}
