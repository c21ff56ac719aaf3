package usecase

import "errors"

// Sentinel errors raised by the use cases, in addition to the repository's
// ErrNotFound / ErrDuplicateEmail / ErrDuplicateIdentity.
var (
	ErrForbidden          = errors.New("caller is neither owner nor staff")
	ErrInvalidCode        = errors.New("one-time code does not match")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidIdentity    = errors.New("identity code or phone number is malformed")
)
