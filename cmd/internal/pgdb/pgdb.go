// Package pgdb holds the small amount of PostgreSQL plumbing shared by the
// estate stores: the DB handle they accept, identifier quoting, transaction
// scoping, and error classification.
package pgdb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the schema every store uses unless configured otherwise.
const DefaultSchema = "estate"

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it
// too, which is how the stores are unit tested.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ReadWrite is the isolation every read-modify-write in estate runs under;
// serialization comes from explicit row locks, not the isolation level.
var ReadWrite = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain PostgreSQL identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Ident quotes a schema-qualified identifier: "schema"."name".
func Ident(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// CheckSchema trims and validates a schema name for store options.
func CheckSchema(pkg, schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", fmt.Errorf("%s: empty schema", pkg)
	}
	if !ValidIdent(schema) {
		return "", fmt.Errorf("%s: invalid schema identifier", pkg)
	}
	return schema, nil
}

// InTx runs fn inside a ReadWrite transaction. fn's error rolls back; a nil
// return commits.
func InTx(ctx context.Context, db DB, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, ReadWrite)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// UniqueViolation returns the violated constraint name for a 23505 error.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// ForeignKeyViolation reports whether err is a 23503 error.
func ForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
