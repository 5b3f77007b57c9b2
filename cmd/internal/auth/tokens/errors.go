package tokens

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")

	// ErrConfig is returned for invalid codec configuration.
	ErrConfig = errors.New("invalid token config")
)

// RejectedError is the only error Verify returns. Reason is one of the three
// rejection sentinels; Cause keeps the library detail for logs.
type RejectedError struct {
	Reason error
	Cause  error
}

func (e *RejectedError) Error() string {
	if e.Cause == nil {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
}

func (e *RejectedError) Unwrap() error { return e.Reason }

func reject(reason, cause error) error {
	return &RejectedError{Reason: reason, Cause: cause}
}

// Reason returns the rejection sentinel carried by err, or nil.
func Reason(err error) error {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return nil
}
