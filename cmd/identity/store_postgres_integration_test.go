package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"estate/cmd/identity"
	"estate/cmd/internal/pgdb/pgtest"
)

func TestPostgresStore_Integration_FailureCounterIsSerialized(t *testing.T) {
	t.Parallel()

	pool, schema := pgtest.Schema(t)
	s, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := s.Create(ctx, identity.CreateAccountInput{
		Email:        "Race@Example.com",
		PasswordHash: "$argon2id$v=19$placeholder",
		Role:         identity.RoleCustomer,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateFailureState(ctx, a.ID, func(f identity.FailureState) identity.FailureState {
				f.ConsecutiveFailures++
				return f
			}, time.Now())
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.FindByEmail(ctx, "race@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Failures.ConsecutiveFailures != n {
		t.Fatalf("expected %d failures, got %d", n, got.Failures.ConsecutiveFailures)
	}

	if _, err := s.Create(ctx, identity.CreateAccountInput{
		Email:        "RACE@example.com",
		PasswordHash: "x",
	}); !identity.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
