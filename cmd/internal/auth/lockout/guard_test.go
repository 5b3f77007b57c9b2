package lockout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate/cmd/identity"
	"estate/cmd/internal/auth/lockout"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*lockout.Guard, *identity.InMemoryStore, identity.Account) {
	t.Helper()
	store := identity.NewInMemoryStore()
	a, err := store.Create(context.Background(), identity.CreateAccountInput{
		Email:        "tenant@example.com",
		PasswordHash: "$argon2id$placeholder",
		Now:          t0,
	})
	require.NoError(t, err)

	g, err := lockout.NewGuard(store, lockout.DefaultConfig())
	require.NoError(t, err)
	return g, store, a
}

func reload(t *testing.T, store identity.Store, id string) identity.Account {
	t.Helper()
	a, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestRecordFailure_LocksAtThreshold(t *testing.T) {
	g, store, a := setup(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		st, err := g.RecordFailure(ctx, a.ID, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.False(t, st.Locked, "failure %d", i)
		assert.Equal(t, i, st.Failures)
	}

	at := t0.Add(5 * time.Second)
	st, err := g.RecordFailure(ctx, a.ID, at)
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.True(t, st.Engaged)
	require.NotNil(t, st.LockedUntil)
	assert.Equal(t, at.Add(30*time.Minute), *st.LockedUntil)

	cur := reload(t, store, a.ID)
	assert.True(t, g.CheckLocked(cur, at.Add(29*time.Minute)))
	assert.Equal(t, lockout.Locked, g.State(cur, at.Add(29*time.Minute)))
}

func TestRecordFailure_CounterStaysAtThresholdWhileLocked(t *testing.T) {
	g, _, a := setup(t)
	ctx := context.Background()

	var st lockout.LockState
	var err error
	for range 5 {
		st, err = g.RecordFailure(ctx, a.ID, t0)
		require.NoError(t, err)
	}
	until := *st.LockedUntil

	st, err = g.RecordFailure(ctx, a.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, st.Failures)
	assert.False(t, st.Engaged)
	assert.Equal(t, until, *st.LockedUntil, "window must not be extended")
}

func TestLapsedLock_IsExpiredLockedUntilNextAttempt(t *testing.T) {
	g, store, a := setup(t)
	ctx := context.Background()

	for range 5 {
		_, err := g.RecordFailure(ctx, a.ID, t0)
		require.NoError(t, err)
	}
	lapsed := t0.Add(30 * time.Minute)

	cur := reload(t, store, a.ID)
	assert.False(t, g.CheckLocked(cur, lapsed), "lock ends exactly at lockedUntil")
	assert.Equal(t, lockout.ExpiredLocked, g.State(cur, lapsed))
	assert.Equal(t, 5, cur.Failures.ConsecutiveFailures, "counter is not reset lazily")

	st, err := g.RecordFailure(ctx, a.ID, lapsed.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.Equal(t, 1, st.Failures)
	assert.Nil(t, st.LockedUntil)
}

func TestRecordSuccess_Resets(t *testing.T) {
	g, store, a := setup(t)
	ctx := context.Background()

	for range 5 {
		_, err := g.RecordFailure(ctx, a.ID, t0)
		require.NoError(t, err)
	}
	require.NoError(t, g.RecordSuccess(ctx, a.ID, t0.Add(time.Hour)))

	cur := reload(t, store, a.ID)
	assert.True(t, lockout.Clean(cur))
	assert.Equal(t, lockout.Open, g.State(cur, t0.Add(time.Hour)))
}

func TestRecordFailure_ConcurrentIsMonotonic(t *testing.T) {
	store := identity.NewInMemoryStore()
	a, err := store.Create(context.Background(), identity.CreateAccountInput{
		Email: "busy@example.com", PasswordHash: "$argon2id$x", Now: t0,
	})
	require.NoError(t, err)
	g, err := lockout.NewGuard(store, lockout.Config{Threshold: 50, Duration: time.Minute})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.RecordFailure(context.Background(), a.ID, t0); err != nil {
				t.Errorf("RecordFailure: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, reload(t, store, a.ID).Failures.ConsecutiveFailures)
}

func TestRecordFailure_Errors(t *testing.T) {
	g, _, _ := setup(t)

	_, err := g.RecordFailure(context.Background(), " ", t0)
	assert.True(t, errors.Is(err, lockout.ErrInvalidInput))

	_, err = g.RecordFailure(context.Background(), "missing", t0)
	assert.True(t, identity.IsNotFound(err))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ESTATE_AUTH_LOCKOUT_THRESHOLD", "3")
	t.Setenv("ESTATE_AUTH_LOCKOUT_DURATION", "10m")
	cfg, err := lockout.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, lockout.Config{Threshold: 3, Duration: 10 * time.Minute}, cfg)

	cases := map[string][2]string{
		"zero threshold":  {"0", "10m"},
		"bad threshold":   {"five", "10m"},
		"bad duration":    {"3", "soon"},
		"tiny duration":   {"3", "1ms"},
		"absurd duration": {"3", "9000h"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ESTATE_AUTH_LOCKOUT_THRESHOLD", c[0])
			t.Setenv("ESTATE_AUTH_LOCKOUT_DURATION", c[1])
			_, err := lockout.LoadConfigFromEnv()
			assert.True(t, errors.Is(err, lockout.ErrConfig), "got %v", err)
		})
	}
}
