package tokens

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes what a token may be used for.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

func (k Kind) valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindReset:
		return true
	}
	return false
}

// Claims is the typed claim set carried inside every token.
//
// Refresh tokens always carry DeviceID. Reset tokens carry the opaque reset
// Ticket and no account binding.
type Claims struct {
	ID        string
	AccountID string
	Role      string
	DeviceID  string
	Kind      Kind
	Ticket    string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (c Claims) validate() error {
	if !c.Kind.valid() {
		return fmt.Errorf("tokens: unknown kind %q", c.Kind)
	}
	switch c.Kind {
	case KindReset:
		if strings.TrimSpace(c.Ticket) == "" {
			return fmt.Errorf("tokens: reset token requires a ticket")
		}
	default:
		if strings.TrimSpace(c.AccountID) == "" {
			return fmt.Errorf("tokens: %s token requires an account", c.Kind)
		}
		if c.Kind == KindRefresh && strings.TrimSpace(c.DeviceID) == "" {
			return fmt.Errorf("tokens: refresh token requires a device")
		}
	}
	return nil
}
