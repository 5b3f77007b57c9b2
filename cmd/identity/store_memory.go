package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is the dev and test fallback when no database is configured.
// A single mutex makes every method, UpdateFailureState included, atomic.
type InMemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*Account
	byEmail map[string]string // email_norm -> id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	acct, err := newAccount(op, in)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[acct.EmailNorm]; exists {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}
	stored := acct
	s.byID[acct.ID] = &stored
	s.byEmail[acct.EmailNorm] = acct.ID
	return acct, nil
}

func (s *InMemoryStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.FindByEmail"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, invalid(op, "missing email")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[norm]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return s.byID[id].clone(), nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, accountID string) (Account, error) {
	const op = "identity.FindByID"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[strings.TrimSpace(accountID)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return a.clone(), nil
}

func (s *InMemoryStore) UpdateFailureState(ctx context.Context, accountID string, mutate FailureMutation, now time.Time) (FailureState, error) {
	const op = "identity.UpdateFailureState"

	if err := ctx.Err(); err != nil {
		return FailureState{}, err
	}
	if mutate == nil {
		return FailureState{}, invalid(op, "nil mutation")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[accountID]
	if !ok {
		return FailureState{}, NotFoundError{Op: op, Resource: "account"}
	}

	next := mutate(a.clone().Failures)
	if next.ConsecutiveFailures < 0 {
		next.ConsecutiveFailures = 0
	}
	a.Failures = next.WithLockedUntil(next.LockedUntil)
	a.UpdatedAt = now.UTC()
	return a.clone().Failures, nil
}

func (s *InMemoryStore) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "missing password_hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[accountID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = now.UTC()
	return nil
}

// clone copies a so callers never alias the stored LockedUntil pointer.
func (a *Account) clone() Account {
	out := *a
	if a.Failures.LockedUntil != nil {
		t := *a.Failures.LockedUntil
		out.Failures.LockedUntil = &t
	}
	return out
}
