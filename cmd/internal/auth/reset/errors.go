package reset

import "errors"

var (
	// ErrNotFound covers unknown, already consumed, and purged tickets.
	ErrNotFound = errors.New("reset: ticket not found")
	ErrExpired  = errors.New("reset: ticket expired")

	ErrInvalidInput = errors.New("reset: invalid input")
	ErrConfig       = errors.New("reset: invalid config")
)
