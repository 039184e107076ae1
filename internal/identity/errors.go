package identity

import "errors"

var (
	ErrNotFound         = errors.New("identity: not found")
	ErrAlreadyExists    = errors.New("identity: already exists")
	ErrInvalidInput     = errors.New("identity: invalid input")
	ErrUnknownRole      = errors.New("identity: unknown role")
	ErrUnauthorized     = errors.New("identity: unauthorized")
	ErrPasswordMismatch = errors.New("identity: current password does not match")
	ErrPasswordPolicy   = errors.New("identity: password does not meet policy")
)
