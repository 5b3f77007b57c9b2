package session

import (
	"errors"
	"fmt"
	"time"

	"estate/cmd/internal/auth/tokens"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is internally distinct from ErrInvalidCredentials but
	// every LockedError matches both.
	ErrAccountLocked = errors.New("account locked")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")

	// ErrDeviceNotAuthorized means the token is valid but its device slot was
	// evicted, logged out, or revoked.
	ErrDeviceNotAuthorized = errors.New("device not authorized")

	ErrResetTokenNotFound = errors.New("reset token not found")
	ErrResetTokenExpired  = errors.New("reset token expired")

	// ErrInvalidInput wraps request validation failures, including password
	// policy violations.
	ErrInvalidInput = errors.New("invalid input")

	ErrEmailTaken = errors.New("email already registered")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// LockedError carries the end of the lock window for logs and audit.
type LockedError struct {
	AccountID string
	Until     time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() []error { return []error{ErrAccountLocked, ErrInvalidCredentials} }

// Client-facing outcomes. Anything finer is an oracle for an attacker.
const (
	OutcomeOK                 = "ok"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeSessionExpired     = "session_expired"
	OutcomeResetLinkInvalid   = "reset_link_invalid"
	OutcomeInvalidRequest     = "invalid_request"
	OutcomeConflict           = "conflict"
	OutcomeInternal           = "internal"
)

// Outcome collapses err into the coarse outcome a client is allowed to see.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
		return OutcomeInvalidCredentials
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrDeviceNotAuthorized):
		return OutcomeSessionExpired
	case errors.Is(err, ErrResetTokenNotFound), errors.Is(err, ErrResetTokenExpired):
		return OutcomeResetLinkInvalid
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidRequest
	case errors.Is(err, ErrEmailTaken):
		return OutcomeConflict
	default:
		return OutcomeInternal
	}
}

// Reason is the full-fidelity label recorded in audit rows and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrDeviceNotAuthorized):
		return "device_not_authorized"
	case errors.Is(err, ErrTokenInvalid):
		if errors.Is(err, tokens.ErrMalformed) {
			return "token_malformed"
		}
		if errors.Is(err, tokens.ErrSignatureInvalid) {
			return "token_signature_invalid"
		}
		return "token_invalid"
	case errors.Is(err, ErrResetTokenNotFound):
		return "reset_not_found"
	case errors.Is(err, ErrResetTokenExpired):
		return "reset_expired"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrEmailTaken):
		return "email_taken"
	default:
		return "internal"
	}
}

// tokenError maps a codec rejection. The codec error stays in the chain so
// Reason can tell malformed from forged.
func tokenError(err error) error {
	if errors.Is(err, tokens.ErrExpired) {
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
}
