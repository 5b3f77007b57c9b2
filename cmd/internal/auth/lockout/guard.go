package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"estate/cmd/identity"
	"estate/cmd/internal/auth/expiry"
)

// State is the lockout position of an account at a given instant.
type State int

const (
	Open State = iota
	Locked
	ExpiredLocked
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Locked:
		return "locked"
	case ExpiredLocked:
		return "expired_locked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LockState is what RecordFailure leaves behind.
type LockState struct {
	Locked      bool
	LockedUntil *time.Time
	Failures    int
	// Engaged is true only for the failure that set the lock.
	Engaged bool
}

// Guard applies the lockout policy to identity accounts.
type Guard struct {
	accounts identity.Store
	cfg      Config
	log      *slog.Logger
}

type Option func(*Guard)

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGuard(accounts identity.Store, cfg Config, opts ...Option) (*Guard, error) {
	if accounts == nil {
		return nil, fmt.Errorf("%w: nil account store", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Guard{accounts: accounts, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Guard) Config() Config { return g.cfg }

// CheckLocked reports whether login must be refused for a. A lapsed lock is
// not enforced.
func (g *Guard) CheckLocked(a identity.Account, now time.Time) bool {
	return expiry.Active(a.Failures.LockedUntil, now)
}

// State classifies a's failure state at now.
func (g *Guard) State(a identity.Account, now time.Time) State {
	return classify(a.Failures, now)
}

func classify(f identity.FailureState, now time.Time) State {
	switch {
	case expiry.Active(f.LockedUntil, now):
		return Locked
	case f.LockedUntil != nil:
		return ExpiredLocked
	default:
		return Open
	}
}

// RecordFailure counts one failed attempt.
//
// A lapsed lock is cleared first so the attempt starts a fresh count. While a
// lock is still active the state is returned unchanged; the counter never
// climbs past the threshold and the window is never extended.
func (g *Guard) RecordFailure(ctx context.Context, accountID string, now time.Time) (LockState, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return LockState{}, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	now = now.UTC()

	var engaged bool
	f, err := g.accounts.UpdateFailureState(ctx, accountID, func(cur identity.FailureState) identity.FailureState {
		engaged = false
		switch classify(cur, now) {
		case Locked:
			return cur
		case ExpiredLocked:
			cur = identity.FailureState{}
		}

		cur.ConsecutiveFailures++
		if cur.ConsecutiveFailures >= g.cfg.Threshold {
			cur.ConsecutiveFailures = g.cfg.Threshold
			until := now.Add(g.cfg.Duration)
			cur = cur.WithLockedUntil(&until)
			engaged = true
		}
		return cur
	}, now)
	if err != nil {
		return LockState{}, err
	}

	st := LockState{
		Locked:      expiry.Active(f.LockedUntil, now),
		LockedUntil: f.LockedUntil,
		Failures:    f.ConsecutiveFailures,
		Engaged:     engaged,
	}
	if engaged {
		g.log.Warn("auth.lockout.engaged",
			"account_id", accountID,
			"failures", f.ConsecutiveFailures,
			"locked_until", f.LockedUntil,
		)
	}
	return st, nil
}

// RecordSuccess clears the counter and any lock.
func (g *Guard) RecordSuccess(ctx context.Context, accountID string, now time.Time) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	_, err := g.accounts.UpdateFailureState(ctx, accountID, func(identity.FailureState) identity.FailureState {
		return identity.FailureState{}
	}, now)
	return err
}

// Clean reports whether a carries no failures and no lock.
func Clean(a identity.Account) bool {
	return a.Failures.ConsecutiveFailures == 0 && a.Failures.LockedUntil == nil
}
