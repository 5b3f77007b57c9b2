package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"estate/cmd/identity"
	"estate/cmd/internal/audit"
	"estate/cmd/internal/auth/device"
	"estate/cmd/internal/auth/reset"
	"estate/cmd/internal/auth/tokens"
	"estate/cmd/internal/mail"
	"estate/cmd/security/token"
)

// ResetRequestedMessage is returned for every reset request, whether or not
// the email belongs to an account.
const ResetRequestedMessage = "If an account exists for that email, a reset link is on its way."

// RequestPasswordReset looks the email up and queues the rest of the work:
// for a known account a ticket is stored and the reset email sent, for an
// unknown one a decoy link is minted and discarded. The response never waits
// on the ticket store, so known and unknown addresses return alike. Errors
// are only logged.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) string {
	now := s.d.Clock()
	s.d.Metrics.Reset("requested")

	acct, err := s.d.Accounts.FindByEmail(ctx, email)
	if err != nil {
		reason := "unknown_email"
		if !identity.IsNotFound(err) && !identity.IsInvalidInput(err) {
			s.d.Log.Error("auth.reset.lookup.fail", "err", err)
			reason = "internal"
		}
		s.background(ctx, func(ctx context.Context) {
			s.resetDecoy(now)
			s.d.Audit.Record(ctx, audit.Event{
				Action:  "auth.reset.request",
				Outcome: audit.OutcomeFailure,
				Reason:  reason,
				At:      now,
			})
		})
		return ResetRequestedMessage
	}

	s.background(ctx, func(ctx context.Context) {
		s.sendResetLink(ctx, acct, now)
	})
	return ResetRequestedMessage
}

func (s *Service) sendResetLink(ctx context.Context, acct identity.Account, now time.Time) {
	link, err := s.issueResetLink(ctx, acct.EmailNorm, now)
	if err != nil {
		s.d.Log.Error("auth.reset.issue.fail", "err", err, "account_id", acct.ID)
		s.d.Audit.Record(ctx, audit.Event{
			Action:    "auth.reset.request",
			Outcome:   audit.OutcomeFailure,
			Reason:    "internal",
			AccountID: acct.ID,
			At:        now,
		})
		return
	}

	s.d.Mailer.Dispatch(mail.Message{
		To:         acct.Email,
		TemplateID: mail.TemplatePasswordReset,
		Data: map[string]any{
			"Link":      link,
			"ExpiresIn": s.d.Resets.TTL().String(),
		},
	})
	s.d.Metrics.Reset("issued")
	s.d.Audit.Record(ctx, audit.Event{
		Action:    "auth.reset.request",
		Outcome:   audit.OutcomeSuccess,
		AccountID: acct.ID,
		At:        now,
	})
}

// issueResetLink stores a ticket and wraps it in a signed reset token, so a
// link that was tampered with fails before any store lookup.
func (s *Service) issueResetLink(ctx context.Context, email string, now time.Time) (string, error) {
	ticket, err := s.d.Resets.Issue(ctx, email, now)
	if err != nil {
		return "", err
	}
	wrapped, err := s.d.Codec.Issue(tokens.Claims{Kind: tokens.KindReset, Ticket: ticket}, s.d.Resets.TTL(), now)
	if err != nil {
		return "", err
	}
	return s.resetLink(wrapped), nil
}

func (s *Service) resetLink(wrapped string) string {
	sep := "?"
	if strings.Contains(s.cfg.ResetLinkBase, "?") {
		sep = "&"
	}
	return s.cfg.ResetLinkBase + sep + "token=" + url.QueryEscape(wrapped)
}

// resetDecoy does the CPU work of the real path for unknown addresses.
func (s *Service) resetDecoy(now time.Time) {
	raw, err := token.NewOpaque(32)
	if err != nil {
		return
	}
	wrapped, err := s.d.Codec.Issue(tokens.Claims{Kind: tokens.KindReset, Ticket: raw}, s.d.Resets.TTL(), now)
	if err == nil {
		_ = s.resetLink(wrapped)
	}
}

// CompletePasswordReset redeems a reset token and sets a new password. On
// success the lockout state is cleared and every device is signed out.
//
// The password policy is checked before the ticket is consumed, so a
// rejected password leaves the link usable.
func (s *Service) CompletePasswordReset(ctx context.Context, resetToken, newPassword string) error {
	now := s.d.Clock()
	accountID, err := s.completePasswordReset(ctx, resetToken, newPassword, now)

	ev := audit.Event{
		Action:    "auth.reset.complete",
		Outcome:   audit.OutcomeSuccess,
		Reason:    Reason(err),
		AccountID: accountID,
		At:        now,
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailure
		s.d.Metrics.Reset("rejected")
	} else {
		s.d.Metrics.Reset("completed")
	}
	s.d.Audit.Record(ctx, ev)
	return err
}

func (s *Service) completePasswordReset(ctx context.Context, resetToken, newPassword string, now time.Time) (string, error) {
	claims, err := s.d.Codec.Verify(resetToken, now)
	if err != nil {
		if errors.Is(err, tokens.ErrExpired) {
			return "", fmt.Errorf("%w: %w", ErrResetTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %w", ErrResetTokenNotFound, err)
	}
	if claims.Kind != tokens.KindReset {
		return "", fmt.Errorf("%w: %s token presented for reset", ErrResetTokenNotFound, claims.Kind)
	}

	if err := s.d.Hasher.Config().Validate(newPassword); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	email, err := s.d.Resets.Consume(ctx, claims.Ticket, now)
	switch {
	case errors.Is(err, reset.ErrNotFound):
		return "", ErrResetTokenNotFound
	case errors.Is(err, reset.ErrExpired):
		return "", ErrResetTokenExpired
	case err != nil:
		return "", err
	}

	acct, err := s.d.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return "", ErrResetTokenNotFound
		}
		return "", err
	}

	hash, err := s.d.Hasher.Hash(newPassword)
	if err != nil {
		return acct.ID, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.d.Accounts.UpdatePasswordHash(ctx, acct.ID, hash, now); err != nil {
		return acct.ID, err
	}
	if err := s.d.Lockout.RecordSuccess(ctx, acct.ID, now); err != nil {
		return acct.ID, err
	}
	n, err := s.d.Devices.DeactivateAll(ctx, acct.ID, device.ReasonPasswordReset, now)
	if err != nil {
		return acct.ID, err
	}
	s.d.Log.Info("auth.reset.completed", "account_id", acct.ID, "devices_signed_out", n)
	return acct.ID, nil
}
