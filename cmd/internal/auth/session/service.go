package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"estate/cmd/identity"
	"estate/cmd/internal/audit"
	"estate/cmd/internal/auth/device"
	"estate/cmd/internal/auth/expiry"
	"estate/cmd/internal/auth/lockout"
	"estate/cmd/internal/auth/reset"
	"estate/cmd/internal/auth/tokens"
	"estate/cmd/internal/mail"
	"estate/cmd/internal/metrics"
	"estate/cmd/security/password"
)

// Mailer queues an email without waiting for delivery. *mail.Dispatcher
// implements it.
type Mailer interface {
	Dispatch(m mail.Message) bool
}

// Deps are the collaborators a Service sequences. Audit, Metrics, Log, and
// Clock are optional.
type Deps struct {
	Accounts identity.Store
	Hasher   *password.Hasher
	Codec    tokens.Codec
	Devices  *device.Registry
	Lockout  *lockout.Guard
	Resets   *reset.Service
	Mailer   Mailer

	Audit   audit.Recorder
	Metrics *metrics.Metrics
	Log     *slog.Logger
	Clock   expiry.Clock
}

// Service implements the session operations for estate.
type Service struct {
	cfg Config
	d   Deps

	// dummyHash is verified against when the account is unknown or locked so
	// those paths cost the same as a real password check.
	dummyHash string

	// Reset requests finish after the response; pending bounds how many may
	// be in flight and bg tracks them for Wait.
	pending chan struct{}
	bg      sync.WaitGroup
}

const (
	maxPendingResets = 256
	resetJobTimeout  = 15 * time.Second
)

// NewService validates cfg and deps. It hashes one throwaway password, so it
// takes as long as a single Hash call.
func NewService(cfg Config, d Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case d.Accounts == nil:
		return nil, fmt.Errorf("%w: nil account store", ErrConfig)
	case d.Hasher == nil:
		return nil, fmt.Errorf("%w: nil password hasher", ErrConfig)
	case d.Codec == nil:
		return nil, fmt.Errorf("%w: nil token codec", ErrConfig)
	case d.Devices == nil:
		return nil, fmt.Errorf("%w: nil device registry", ErrConfig)
	case d.Lockout == nil:
		return nil, fmt.Errorf("%w: nil lockout guard", ErrConfig)
	case d.Resets == nil:
		return nil, fmt.Errorf("%w: nil reset service", ErrConfig)
	case d.Mailer == nil:
		return nil, fmt.Errorf("%w: nil mailer", ErrConfig)
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = expiry.SystemClock
	}

	dummy, err := d.Hasher.Hash("estate-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("session: dummy hash: %w", err)
	}
	return &Service{
		cfg:       cfg,
		d:         d,
		dummyHash: dummy,
		pending:   make(chan struct{}, maxPendingResets),
	}, nil
}

// background runs fn on its own goroutine with a context that outlives the
// request but keeps its values. When maxPendingResets jobs are already in
// flight the job is dropped and logged.
func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	select {
	case s.pending <- struct{}{}:
	default:
		s.d.Log.Warn("auth.reset.queue.full")
		return
	}
	s.bg.Add(1)
	go func() {
		defer func() {
			<-s.pending
			s.bg.Done()
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetJobTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until queued reset work has finished. Call it before closing
// the mailer.
func (s *Service) Wait() {
	s.bg.Wait()
}

// LoginInput is a password login from one device.
type LoginInput struct {
	Email       string
	Password    string
	DeviceID    string
	DeviceLabel string
}

// LoginResult is an access+refresh pair bound to the device.
type LoginResult struct {
	AccountID        string
	Role             identity.Role
	DeviceID         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time

	// EvictedDeviceID is the device that lost its slot to this login, if any.
	EvictedDeviceID string
}

// RefreshResult carries a new access token. The refresh token is not rotated.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
}

// Login checks the lock, verifies the password, updates the failure counter,
// claims a device slot, and issues tokens.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	now := s.d.Clock()
	in.DeviceID = strings.TrimSpace(in.DeviceID)

	res, err := s.login(ctx, in, now)

	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
		s.d.Metrics.Login("failure", Reason(err))
	} else {
		s.d.Metrics.Login("success", "")
	}
	s.d.Audit.Record(ctx, audit.Event{
		Action:    "auth.login",
		Outcome:   outcome,
		Reason:    Reason(err),
		AccountID: res.AccountID,
		DeviceID:  in.DeviceID,
		At:        now,
	})
	if err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

func (s *Service) login(ctx context.Context, in LoginInput, now time.Time) (LoginResult, error) {
	if in.DeviceID == "" || len(in.DeviceID) > 128 || len(in.DeviceLabel) > 128 {
		return LoginResult{}, fmt.Errorf("%w: device id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	acct, err := s.d.Accounts.FindByEmail(ctx, in.Email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			s.d.Hasher.Verify(in.Password, s.dummyHash)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if s.d.Lockout.CheckLocked(acct, now) {
		s.d.Hasher.Verify(in.Password, s.dummyHash)
		return LoginResult{AccountID: acct.ID}, &LockedError{AccountID: acct.ID, Until: *acct.Failures.LockedUntil}
	}

	if !s.d.Hasher.Verify(in.Password, acct.PasswordHash) {
		st, ferr := s.d.Lockout.RecordFailure(ctx, acct.ID, now)
		if ferr != nil {
			s.d.Log.Error("auth.lockout.record_failure.fail", "err", ferr, "account_id", acct.ID)
		} else if st.Engaged {
			s.d.Metrics.LockoutEngaged()
			s.d.Audit.Record(ctx, audit.Event{
				Action:    "auth.lockout.engaged",
				Outcome:   audit.OutcomeSuccess,
				AccountID: acct.ID,
				At:        now,
			})
		}
		return LoginResult{AccountID: acct.ID}, ErrInvalidCredentials
	}

	// acct may predate a failure recorded by a concurrent attempt, so the
	// reset always goes through the store.
	if err := s.d.Lockout.RecordSuccess(ctx, acct.ID, now); err != nil {
		return LoginResult{}, err
	}
	s.upgradeHash(ctx, acct, in.Password, now)

	reg, err := s.d.Devices.Register(ctx, acct.ID, in.DeviceID, in.DeviceLabel, now)
	if err != nil {
		return LoginResult{}, err
	}
	if reg.EvictedDeviceID != "" {
		s.d.Metrics.DeviceEvicted()
		s.d.Audit.Record(ctx, audit.Event{
			Action:    "auth.device.evicted",
			Outcome:   audit.OutcomeSuccess,
			Reason:    string(device.ReasonEvicted),
			AccountID: acct.ID,
			DeviceID:  reg.EvictedDeviceID,
			At:        now,
		})
	}

	access, accessExp, err := s.issue(tokens.Claims{
		AccountID: acct.ID,
		Role:      string(acct.Role),
		DeviceID:  in.DeviceID,
		Kind:      tokens.KindAccess,
	}, s.cfg.AccessTTL, now)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, refreshExp, err := s.issue(tokens.Claims{
		AccountID: acct.ID,
		Role:      string(acct.Role),
		DeviceID:  in.DeviceID,
		Kind:      tokens.KindRefresh,
	}, s.cfg.RefreshTTL, now)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		AccountID:        acct.ID,
		Role:             acct.Role,
		DeviceID:         in.DeviceID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		EvictedDeviceID:  reg.EvictedDeviceID,
	}, nil
}

// upgradeHash re-hashes with current parameters after a successful verify.
// Failure only costs the upgrade, never the login.
func (s *Service) upgradeHash(ctx context.Context, acct identity.Account, plaintext string, now time.Time) {
	if !s.d.Hasher.NeedsRehash(acct.PasswordHash) {
		return
	}
	h, err := s.d.Hasher.Hash(plaintext)
	if err == nil {
		err = s.d.Accounts.UpdatePasswordHash(ctx, acct.ID, h, now)
	}
	if err != nil {
		s.d.Log.Warn("auth.password.rehash.fail", "err", err, "account_id", acct.ID)
		return
	}
	s.d.Log.Info("auth.password.rehashed", "account_id", acct.ID)
}

func (s *Service) issue(c tokens.Claims, ttl time.Duration, now time.Time) (string, time.Time, error) {
	tok, err := s.d.Codec.Issue(c, ttl, now)
	if err != nil {
		return "", time.Time{}, err
	}
	// Matches the codec's whole-second expiry.
	return tok, now.UTC().Add(ttl).Truncate(time.Second), nil
}

// Refresh mints a new access token from a refresh token whose device still
// holds its slot. The device's activity time moves forward, so a refreshing
// device is never the eviction victim ahead of an idle one.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	now := s.d.Clock()
	res, claims, err := s.refresh(ctx, refreshToken, now)

	if err != nil {
		s.d.Metrics.Refresh("failure", Reason(err))
		s.d.Audit.Record(ctx, audit.Event{
			Action:    "auth.refresh",
			Outcome:   audit.OutcomeFailure,
			Reason:    Reason(err),
			AccountID: claims.AccountID,
			DeviceID:  claims.DeviceID,
			At:        now,
		})
		return RefreshResult{}, err
	}
	s.d.Metrics.Refresh("success", "")
	return res, nil
}

func (s *Service) refresh(ctx context.Context, refreshToken string, now time.Time) (RefreshResult, tokens.Claims, error) {
	claims, err := s.d.Codec.Verify(refreshToken, now)
	if err != nil {
		return RefreshResult{}, tokens.Claims{}, tokenError(err)
	}
	if claims.Kind != tokens.KindRefresh {
		return RefreshResult{}, claims, fmt.Errorf("%w: %s token presented for refresh", ErrTokenInvalid, claims.Kind)
	}

	active, err := s.d.Devices.Touch(ctx, claims.AccountID, claims.DeviceID, now)
	if err != nil {
		return RefreshResult{}, claims, err
	}
	if !active {
		return RefreshResult{}, claims, ErrDeviceNotAuthorized
	}

	access, exp, err := s.issue(tokens.Claims{
		AccountID: claims.AccountID,
		Role:      claims.Role,
		DeviceID:  claims.DeviceID,
		Kind:      tokens.KindAccess,
	}, s.cfg.AccessTTL, now)
	if err != nil {
		return RefreshResult{}, claims, err
	}
	return RefreshResult{AccessToken: access, AccessExpiresAt: exp}, claims, nil
}

// ValidateAccess verifies an access token and confirms its device is still
// signed in, so logout and eviction take effect before the token expires.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (tokens.Claims, error) {
	now := s.d.Clock()
	claims, err := s.d.Codec.Verify(accessToken, now)
	if err != nil {
		return tokens.Claims{}, tokenError(err)
	}
	if claims.Kind != tokens.KindAccess {
		return tokens.Claims{}, fmt.Errorf("%w: %s token presented as access", ErrTokenInvalid, claims.Kind)
	}
	active, err := s.d.Devices.IsActive(ctx, claims.AccountID, claims.DeviceID)
	if err != nil {
		return tokens.Claims{}, err
	}
	if !active {
		return tokens.Claims{}, ErrDeviceNotAuthorized
	}
	return claims, nil
}

// Logout releases the device's slot. Logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, accountID, deviceID string) error {
	return s.deactivate(ctx, "auth.logout", accountID, deviceID, device.ReasonLogout)
}

// RevokeDevice signs a device out on the account owner's request, e.g. from
// a device list. It differs from Logout only in the recorded reason.
func (s *Service) RevokeDevice(ctx context.Context, accountID, deviceID string) error {
	return s.deactivate(ctx, "auth.device.revoked", accountID, deviceID, device.ReasonRevoked)
}

func (s *Service) deactivate(ctx context.Context, action, accountID, deviceID string, reason device.Reason) error {
	now := s.d.Clock()
	changed, err := s.d.Devices.Deactivate(ctx, accountID, deviceID, reason, now)
	if err != nil {
		if errors.Is(err, device.ErrInvalidInput) {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return err
	}
	if changed {
		s.d.Audit.Record(ctx, audit.Event{
			Action:    action,
			Outcome:   audit.OutcomeSuccess,
			Reason:    string(reason),
			AccountID: accountID,
			DeviceID:  deviceID,
			At:        now,
		})
	}
	return nil
}

// SignOutOthers deactivates every device of the account except keepDeviceID
// and returns how many were signed out.
func (s *Service) SignOutOthers(ctx context.Context, accountID, keepDeviceID string) (int64, error) {
	now := s.d.Clock()
	n, err := s.d.Devices.DeactivateAllExcept(ctx, accountID, keepDeviceID, now)
	if err != nil {
		if errors.Is(err, device.ErrInvalidInput) {
			return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return 0, err
	}
	s.d.Audit.Record(ctx, audit.Event{
		Action:    "auth.logout_others",
		Outcome:   audit.OutcomeSuccess,
		Reason:    fmt.Sprintf("%d signed out", n),
		AccountID: accountID,
		DeviceID:  keepDeviceID,
		At:        now,
	})
	return n, nil
}

// Devices lists the account's active device sessions, least recently active
// first.
func (s *Service) Devices(ctx context.Context, accountID string) ([]device.Session, error) {
	return s.d.Devices.Active(ctx, accountID)
}
