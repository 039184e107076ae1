package identity

import (
	"fmt"
	"math"
	"time"
)

const (
	defaultMaxFailedAttempts = 5
	defaultLockoutDuration   = 15 * time.Minute
)

// OutcomeKind classifies the result of a login attempt. Business rejections
// are values here, never errors; only StorageFailure carries an error.
type OutcomeKind int

const (
	Admit OutcomeKind = iota
	WrongCredentials
	LockedOut
	Deactivated
	StorageFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Admit:
		return "admit"
	case WrongCredentials:
		return "wrong_credentials"
	case LockedOut:
		return "locked_out"
	case Deactivated:
		return "deactivated"
	case StorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// LoginOutcome is the typed result of evaluating a login attempt.
// RemainingAttempts is meaningful for WrongCredentials, RemainingMinutes for
// LockedOut; neither is reported on Admit.
type LoginOutcome struct {
	Kind              OutcomeKind
	RemainingAttempts int
	RemainingMinutes  int
	Message           string
	Err               error
}

// LockoutPolicy decides whether a login attempt is admitted, rejected with a
// remaining-attempts warning, or rejected with a lockout countdown. It is
// pure over the supplied user and clock; persistence happens in the caller.
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DefaultLockoutPolicy mirrors the production configuration: five attempts,
// fifteen-minute lockout.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxFailedAttempts: defaultMaxFailedAttempts,
		LockoutDuration:   defaultLockoutDuration,
	}
}

// Evaluate runs the per-user state machine for one attempt. It mutates the
// user's FailedAccessCount and LockoutEnd in memory and reports whether
// those fields changed so the caller knows to persist them.
//
// Transitions: a failed check increments the counter; reaching the maximum
// locks the account until now+LockoutDuration and resets the counter; an
// expired lockout is cleared lazily here, on the next attempt; a successful
// check resets everything. A deactivated user is rejected before lockout
// state is consulted.
func (p LockoutPolicy) Evaluate(user *User, credentialOK bool, now time.Time) (LoginOutcome, bool) {
	if !user.IsActive {
		return LoginOutcome{Kind: Deactivated, Message: "Deactivated user cannot be logged in"}, false
	}

	if user.Locked(now) {
		mins := remainingMinutes(*user.LockoutEnd, now)
		return LoginOutcome{
			Kind:             LockedOut,
			RemainingMinutes: mins,
			Message:          lockedMessage(mins),
		}, false
	}

	changed := false
	if user.LockoutEnd != nil {
		// Lockout window elapsed; unlock lazily.
		user.LockoutEnd = nil
		user.FailedAccessCount = 0
		changed = true
	}

	if credentialOK {
		if user.FailedAccessCount != 0 {
			user.FailedAccessCount = 0
			changed = true
		}
		return LoginOutcome{Kind: Admit}, changed
	}

	user.FailedAccessCount++
	if user.FailedAccessCount >= p.MaxFailedAttempts {
		until := now.Add(p.LockoutDuration)
		user.LockoutEnd = &until
		user.FailedAccessCount = 0
		mins := remainingMinutes(until, now)
		return LoginOutcome{
			Kind:             LockedOut,
			RemainingMinutes: mins,
			Message:          lockedMessage(mins),
		}, true
	}

	left := p.MaxFailedAttempts - user.FailedAccessCount
	if left < 0 {
		left = 0
	}
	return LoginOutcome{
		Kind:              WrongCredentials,
		RemainingAttempts: left,
		Message:           wrongCredentialsMessage(left, p.LockoutDuration),
	}, true
}

// Probe reports the user-facing lockout status without counting an attempt.
// It backs the anonymous lockout endpoint the login form polls.
func (p LockoutPolicy) Probe(user *User, now time.Time) LoginOutcome {
	if !user.IsActive {
		return LoginOutcome{Kind: Deactivated, Message: "Deactivated user cannot be logged in"}
	}
	if user.Locked(now) {
		mins := remainingMinutes(*user.LockoutEnd, now)
		return LoginOutcome{
			Kind:             LockedOut,
			RemainingMinutes: mins,
			Message:          lockedMessage(mins),
		}
	}
	left := p.MaxFailedAttempts - user.FailedAccessCount
	if left < 0 {
		left = 0
	}
	return LoginOutcome{
		Kind:              WrongCredentials,
		RemainingAttempts: left,
		Message:           wrongCredentialsMessage(left, p.LockoutDuration),
	}
}

// remainingMinutes rounds away from zero and floors at one minute so a
// nearly expired lockout still reads as "1 min", never zero or negative.
func remainingMinutes(until, now time.Time) int {
	mins := until.Sub(now).Minutes()
	if mins <= 0 {
		return 0
	}
	rounded := int(math.Round(mins))
	if rounded < 1 {
		return 1
	}
	return rounded
}

func lockedMessage(mins int) string {
	if mins > 1 {
		return fmt.Sprintf("User account locked for %d mins", mins)
	}
	return "User account locked for 1 min"
}

func wrongCredentialsMessage(attemptsLeft int, lockoutDuration time.Duration) string {
	durMins := int(lockoutDuration.Minutes())
	switch {
	case attemptsLeft > 1:
		return fmt.Sprintf("Wrong username or password. %d login attempts left before account being locked for %d mins", attemptsLeft, durMins)
	case attemptsLeft == 1:
		return fmt.Sprintf("Wrong username or password. Last login attempt before account being locked for %d mins", durMins)
	default:
		return "Wrong username or password"
	}
}
