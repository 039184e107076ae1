package identity

import "time"

// Organisation is the tenant boundary. Every user belongs to exactly one.
type Organisation struct {
	ID        string
	Name      string
	Region    string
	Data      string
	IsDeleted bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a human or service account. A root user shares its identifier with
// the owning organisation; member users get a fresh id at creation. Accounts
// are never hard-deleted: deactivation flips IsActive and keeps the row.
type User struct {
	ID                  string
	Email               string
	Username            string
	PhoneNumber         string
	PasswordHash        string
	IsActive            bool
	IsRootUser          bool
	IsPasswordTemporary bool
	EmailConfirmed      bool
	OrganisationID      string
	FailedAccessCount   int
	LockoutEnd          *time.Time
	LastLoggedOn        *time.Time
	Roles               []string
	AddedBy             string
	ModifiedBy          string
	DateAdded           time.Time
	DateModified        time.Time
}

// Locked reports whether the account is inside an active lockout window.
func (u *User) Locked(now time.Time) bool {
	return u.LockoutEnd != nil && now.Before(*u.LockoutEnd)
}

// OrganisationSpec carries the input for root-user provisioning. When the
// organisation named here does not exist yet it is created in the same
// transaction as the root user.
type OrganisationSpec struct {
	ID        string
	Name      string
	Region    string
	Data      string
	CreatedBy string
	Email     string
	Password  string
}

// UserSpec carries the input for member-user provisioning.
type UserSpec struct {
	Email      string
	Password   string
	Roles      []string
	IsRootUser bool
	AddedBy    string
}

// ProfileUpdate mutates contact fields only; credentials and roles have
// their own operations.
type ProfileUpdate struct {
	Email       string
	PhoneNumber string
	ModifiedBy  string
}
