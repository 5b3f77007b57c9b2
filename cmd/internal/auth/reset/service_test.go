package reset_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate/cmd/internal/auth/reset"
	"estate/cmd/security/token"
)

var t0 = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T) reset.Store
}

func backends() []backend {
	return []backend{
		{"memory", func(*testing.T) reset.Store { return reset.NewInMemoryStore() }},
		{"redis", func(t *testing.T) reset.Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			s, err := reset.NewRedisStore(rdb, reset.WithKeyPrefix("test:reset:"))
			require.NoError(t, err)
			return s
		}},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, svc *reset.Service, store reset.Store)) {
	t.Helper()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store := b.open(t)
			svc, err := reset.NewService(store, token.NewHMACHasher([]byte(strings.Repeat("k", 32))), reset.DefaultConfig())
			require.NoError(t, err)
			fn(t, svc, store)
		})
	}
}

func TestIssueVerifyConsume(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *reset.Service, _ reset.Store) {
		ctx := context.Background()

		raw, err := svc.Issue(ctx, "  Owner@Example.com ", t0)
		require.NoError(t, err)
		require.NotEmpty(t, raw)

		email, err := svc.Verify(ctx, raw, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "owner@example.com", email)

		email, err = svc.Consume(ctx, raw, t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "owner@example.com", email)

		_, err = svc.Consume(ctx, raw, t0.Add(3*time.Minute))
		assert.ErrorIs(t, err, reset.ErrNotFound, "tickets are single use")
		_, err = svc.Verify(ctx, raw, t0.Add(3*time.Minute))
		assert.ErrorIs(t, err, reset.ErrNotFound)
	})
}

func TestExpiry(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *reset.Service, _ reset.Store) {
		ctx := context.Background()
		raw, err := svc.Issue(ctx, "late@example.com", t0)
		require.NoError(t, err)

		_, err = svc.Verify(ctx, raw, t0.Add(time.Hour-time.Second))
		assert.NoError(t, err)

		_, err = svc.Verify(ctx, raw, t0.Add(time.Hour))
		assert.ErrorIs(t, err, reset.ErrExpired, "expiry is inclusive of the deadline")

		_, err = svc.Consume(ctx, raw, t0.Add(time.Hour))
		assert.ErrorIs(t, err, reset.ErrExpired)

		_, err = svc.Consume(ctx, raw, t0.Add(time.Hour))
		assert.ErrorIs(t, err, reset.ErrNotFound, "expired ticket is removed on consume")
	})
}

func TestMultipleOutstandingTickets(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *reset.Service, _ reset.Store) {
		ctx := context.Background()
		first, err := svc.Issue(ctx, "lost@example.com", t0)
		require.NoError(t, err)
		second, err := svc.Issue(ctx, "lost@example.com", t0.Add(time.Minute))
		require.NoError(t, err)
		require.NotEqual(t, first, second)

		_, err = svc.Consume(ctx, second, t0.Add(2*time.Minute))
		require.NoError(t, err)
		_, err = svc.Consume(ctx, first, t0.Add(2*time.Minute))
		require.NoError(t, err, "issuing a new ticket does not revoke older ones")
	})
}

func TestConcurrentConsume_ExactlyOneWins(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *reset.Service, _ reset.Store) {
		ctx := context.Background()
		raw, err := svc.Issue(ctx, "race@example.com", t0)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			wins     atomic.Int32
			notFound atomic.Int32
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Consume(ctx, raw, t0.Add(time.Minute))
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, reset.ErrNotFound):
					notFound.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, 15, notFound.Load())
	})
}

func TestPurgeExpired(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *reset.Service, store reset.Store) {
		ctx := context.Background()
		old, err := svc.Issue(ctx, "old@example.com", t0)
		require.NoError(t, err)
		fresh, err := svc.Issue(ctx, "fresh@example.com", t0.Add(50*time.Minute))
		require.NoError(t, err)

		n, err := svc.PurgeExpired(ctx, t0.Add(time.Hour+time.Second))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = svc.Verify(ctx, old, t0.Add(time.Hour+time.Second))
		assert.ErrorIs(t, err, reset.ErrNotFound)
		_, err = svc.Verify(ctx, fresh, t0.Add(time.Hour+time.Second))
		assert.NoError(t, err)
	})
}

func TestRejectsGarbage(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *reset.Service, _ reset.Store) {
		ctx := context.Background()
		for _, raw := range []string{"", "   ", "not-a-ticket", strings.Repeat("x", 600)} {
			_, err := svc.Consume(ctx, raw, t0)
			assert.True(t, reset.Rejected(err), "%q: %v", raw, err)
		}
		_, err := svc.Issue(ctx, " ", t0)
		assert.ErrorIs(t, err, reset.ErrInvalidInput)
	})
}

func TestStoresKeyedHashNotRawToken(t *testing.T) {
	store := reset.NewInMemoryStore()
	hasher := token.NewHMACHasher([]byte(strings.Repeat("s", 32)))
	svc, err := reset.NewService(store, hasher, reset.DefaultConfig())
	require.NoError(t, err)

	raw, err := svc.Issue(context.Background(), "who@example.com", t0)
	require.NoError(t, err)

	_, err = store.FindByToken(context.Background(), raw)
	assert.ErrorIs(t, err, reset.ErrNotFound)
	tk, err := store.FindByToken(context.Background(), hasher.Hash(raw))
	require.NoError(t, err)
	assert.Len(t, tk.TokenHash, 64)
	assert.Len(t, tk.ID, 26)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ESTATE_AUTH_RESET_TTL", "20m")
	cfg, err := reset.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.TTL)

	for _, bad := range []string{"soon", "10s", "100h"} {
		t.Setenv("ESTATE_AUTH_RESET_TTL", bad)
		_, err := reset.LoadConfigFromEnv()
		assert.ErrorIs(t, err, reset.ErrConfig, bad)
	}
}
