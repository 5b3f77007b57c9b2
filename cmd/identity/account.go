package identity

import (
	"strings"
	"time"
)

// Role is one of the three static roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// ParseRole maps a stored or client-supplied role name to a Role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleAgent, RoleCustomer:
		return r, true
	default:
		return "", false
	}
}

// Account is estate's security principal.
type Account struct {
	ID           string
	Email        string
	EmailNorm    string
	PasswordHash string
	Role         Role

	Failures FailureState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FailureState is the lockout-relevant slice of an Account.
type FailureState struct {
	ConsecutiveFailures int
	LockedUntil         *time.Time
}

// WithLockedUntil returns a copy of f with LockedUntil set to t (nil clears).
func (f FailureState) WithLockedUntil(t *time.Time) FailureState {
	if t != nil {
		u := t.UTC()
		t = &u
	}
	f.LockedUntil = t
	return f
}
