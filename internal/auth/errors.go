package auth

import "errors"

var (
	// ErrNotFound is returned when a requested user or config entry does not
	// exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a username or email collides with an
	// existing record on create.
	ErrDuplicate = errors.New("user or email already exists")

	// ErrInvalidArgument is returned for empty required fields and
	// disallowed config keys.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidCredentials is returned by token issuance when the login
	// cannot be verified. It deliberately does not distinguish unknown
	// users from wrong passwords or non-login roles.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrWrongScope is returned when a scoped token is presented to a
	// workflow it was not issued for.
	ErrWrongScope = errors.New("wrong token scope")

	// ErrTokenUsed is returned when a one-time reset token no longer
	// matches the current credential state, meaning it was already
	// consumed or the password changed since issuance.
	ErrTokenUsed = errors.New("token already used")
)
