package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrStoreUnavailable = errors.New("score store unavailable")
	ErrNotFound         = errors.New("user has no entry in leaderboard")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthorized     = errors.New("missing user identity")
	ErrInternalError    = errors.New("internal server error")
)

// ErrTimeout is returned when a store operation ran past its deadline. The
// write may or may not have been applied.
var ErrTimeout = fmt.Errorf("%w: deadline exceeded", ErrStoreUnavailable)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailableError reports whether err means the backing store could not
// serve the request. Timeouts are included.
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
