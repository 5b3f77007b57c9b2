package identity

import (
	"context"
	"time"
)

// CreateAccountInput describes a registration. PasswordHash is already a
// digest; identity never sees plaintext.
type CreateAccountInput struct {
	Email        string
	PasswordHash string
	Role         Role
	Now          time.Time
}

// FailureMutation computes the next failure state from the current one. It
// runs while the account row is locked and must not block.
type FailureMutation func(FailureState) FailureState

// Store is the account persistence boundary.
type Store interface {
	Create(ctx context.Context, in CreateAccountInput) (Account, error)

	// FindByEmail looks an account up by normalized email. Missing accounts
	// return an error satisfying IsNotFound.
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, accountID string) (Account, error)

	// UpdateFailureState applies mutate to the current failure state as one
	// atomic read-modify-write and returns the stored result.
	UpdateFailureState(ctx context.Context, accountID string, mutate FailureMutation, now time.Time) (FailureState, error)

	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string, now time.Time) error
}
