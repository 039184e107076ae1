package identity

import (
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// CredentialStore owns password hashing and verification. The lifecycle
// manager and the lockout engine never touch hash material directly, so
// tests swap in a deterministic stub.
type CredentialStore interface {
	// Hash derives a storable hash, enforcing the password policy.
	Hash(password string) (string, error)
	// Verify reports whether the supplied password matches the stored hash.
	Verify(hash, password string) bool
}

// BcryptCredentials is the production CredentialStore.
type BcryptCredentials struct {
	Cost int
}

func NewBcryptCredentials() BcryptCredentials {
	return BcryptCredentials{Cost: bcrypt.DefaultCost}
}

func (c BcryptCredentials) Hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordPolicy
	}
	cost := c.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (c BcryptCredentials) Verify(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
