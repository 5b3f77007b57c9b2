package device

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound = errors.New("device: account not found")
	ErrInvalidInput    = errors.New("device: invalid input")
	ErrConfig          = errors.New("device: invalid config")
)

// Reason records why a session went inactive.
type Reason string

const (
	ReasonLogout             Reason = "logout"
	ReasonRevoked            Reason = "revoked"
	ReasonEvicted            Reason = "evicted"
	ReasonPasswordReset      Reason = "password_reset"
	ReasonSignedOutElsewhere Reason = "signed_out_elsewhere"
)

// Session is one (account, device) slot.
type Session struct {
	AccountID    string
	DeviceID     string
	Label        string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Active       bool

	DeactivatedAt *time.Time
	DeactivatedBy Reason
}

// Tx is the view of one account's device set inside Store.WithinAccount.
type Tx interface {
	// FindActiveByAccount returns active sessions, least recently active first.
	FindActiveByAccount(ctx context.Context) ([]Session, error)
	// UpsertActive inserts the slot or reactivates and refreshes an existing one.
	UpsertActive(ctx context.Context, deviceID, label string, now time.Time) error
	MarkInactive(ctx context.Context, deviceID string, reason Reason, now time.Time) (bool, error)
}

// Store persists device sessions.
type Store interface {
	// WithinAccount runs fn with the account's device set locked against
	// concurrent WithinAccount calls for the same account.
	WithinAccount(ctx context.Context, accountID string, fn func(Tx) error) error

	IsActive(ctx context.Context, accountID, deviceID string) (bool, error)
	// Touch bumps LastActiveAt of an active slot and reports whether it was
	// active. Inactive slots are left untouched.
	Touch(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error)
	MarkInactive(ctx context.Context, accountID, deviceID string, reason Reason, now time.Time) (bool, error)
	// MarkAllInactiveExcept deactivates every active slot but keepDeviceID.
	// An empty keepDeviceID deactivates all of them.
	MarkAllInactiveExcept(ctx context.Context, accountID, keepDeviceID string, reason Reason, now time.Time) (int64, error)
	ListActive(ctx context.Context, accountID string) ([]Session, error)
}
