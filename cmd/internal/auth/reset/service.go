package reset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"estate/cmd/identity"
	"estate/cmd/identity/ids"
	"estate/cmd/internal/auth/expiry"
	"estate/cmd/security/token"
)

// Service is the reset ticket lifecycle over a Store.
type Service struct {
	store  Store
	hasher token.Hasher
	cfg    Config
	log    *slog.Logger
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(store Store, hasher token.Hasher, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{store: store, hasher: hasher, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// TTL is the lifetime given to new tickets.
func (s *Service) TTL() time.Duration { return s.cfg.TTL }

// Issue creates a ticket for email and returns the opaque token. The caller
// is responsible for checking that the email belongs to an account.
func (s *Service) Issue(ctx context.Context, email string, now time.Time) (string, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	now = now.UTC()

	raw, err := token.NewOpaque(s.cfg.TokenBytes)
	if err != nil {
		return "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	t := Ticket{
		ID:        id,
		TokenHash: s.hasher.Hash(raw),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return "", err
	}
	s.log.Info("reset.ticket.issued", "ticket_id", t.ID, "expires_at", t.ExpiresAt)
	return raw, nil
}

// Verify returns the email a ticket was issued for without consuming it.
func (s *Service) Verify(ctx context.Context, raw string, now time.Time) (string, error) {
	h, err := s.lookupKey(raw)
	if err != nil {
		return "", err
	}
	t, err := s.store.FindByToken(ctx, h)
	if err != nil {
		return "", err
	}
	if expiry.IsExpired(t.ExpiresAt, now) {
		return "", ErrExpired
	}
	return t.Email, nil
}

// Consume redeems a ticket. The row is removed before the expiry check, so an
// expired ticket is also gone afterwards.
func (s *Service) Consume(ctx context.Context, raw string, now time.Time) (string, error) {
	h, err := s.lookupKey(raw)
	if err != nil {
		return "", err
	}
	t, err := s.store.DeleteByToken(ctx, h)
	if err != nil {
		return "", err
	}
	if expiry.IsExpired(t.ExpiresAt, now) {
		s.log.Info("reset.ticket.expired", "ticket_id", t.ID)
		return "", ErrExpired
	}
	s.log.Info("reset.ticket.consumed", "ticket_id", t.ID)
	return t.Email, nil
}

// PurgeExpired deletes tickets that can no longer be redeemed.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("reset.ticket.purged", "count", n)
	}
	return n, nil
}

func (s *Service) lookupKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 512 {
		return "", ErrNotFound
	}
	return s.hasher.Hash(raw), nil
}

// Rejected reports whether err is a ticket rejection as opposed to a store
// failure.
func Rejected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}
