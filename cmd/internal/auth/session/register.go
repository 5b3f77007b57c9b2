package session

import (
	"context"
	"fmt"
	"strings"

	"estate/cmd/identity"
	"estate/cmd/internal/audit"
	"estate/cmd/internal/mail"
)

// RegisterInput creates an account. An empty Role means customer.
type RegisterInput struct {
	Email    string
	Password string
	Role     identity.Role
}

// Register validates the password policy, hashes, and creates the account.
// It does not sign the new account in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.Account, error) {
	now := s.d.Clock()

	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") || len(email) > 254 {
		return identity.Account{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if in.Role == "" {
		in.Role = identity.RoleCustomer
	}
	if _, ok := identity.ParseRole(string(in.Role)); !ok {
		return identity.Account{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if err := s.d.Hasher.Config().Validate(in.Password); err != nil {
		return identity.Account{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	hash, err := s.d.Hasher.Hash(in.Password)
	if err != nil {
		return identity.Account{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	acct, err := s.d.Accounts.Create(ctx, identity.CreateAccountInput{
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			err = ErrEmailTaken
		case identity.IsInvalidInput(err):
			err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		s.d.Audit.Record(ctx, audit.Event{
			Action:  "auth.register",
			Outcome: audit.OutcomeFailure,
			Reason:  Reason(err),
			At:      now,
		})
		return identity.Account{}, err
	}

	s.d.Mailer.Dispatch(mail.Message{
		To:         acct.Email,
		TemplateID: mail.TemplateWelcome,
		Data:       map[string]any{"Email": acct.Email},
	})
	s.d.Audit.Record(ctx, audit.Event{
		Action:    "auth.register",
		Outcome:   audit.OutcomeSuccess,
		AccountID: acct.ID,
		At:        now,
	})
	return acct, nil
}
