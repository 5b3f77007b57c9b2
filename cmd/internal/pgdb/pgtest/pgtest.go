// Package pgtest opens throwaway PostgreSQL schemas for integration tests.
// Tests are opt-in: without ESTATE_DATABASE_URL they are skipped.
package pgtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estate/cmd/internal/pgdb"
)

const envDatabaseURL = "ESTATE_DATABASE_URL"

// Schema opens a pool, creates a fresh migrated schema, and registers cleanup
// that drops it. It returns the pool and the schema name.
func Schema(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	pool := open(t)
	t.Cleanup(pool.Close)

	var suffix [6]byte
	_, _ = rand.Read(suffix[:])
	schema := "estate_it_" + hex.EncodeToString(suffix[:])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := pgdb.Migrate(ctx, pool, schema); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	return pool, schema
}

func open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(envDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + envDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", envDatabaseURL, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if unreachable(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

// unreachable treats network failures as a skip outside CI.
func unreachable(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "dial tcp")
}
