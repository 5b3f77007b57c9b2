package pgdb

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaTemplate string

// SchemaSQL returns the DDL for every estate table inside schema.
func SchemaSQL(schema string) string {
	return strings.ReplaceAll(schemaTemplate, "{{schema}}", pgx.Identifier{schema}.Sanitize())
}

// Migrate applies SchemaSQL. Every statement is idempotent.
func Migrate(ctx context.Context, db DB, schema string) error {
	if !ValidIdent(schema) {
		return fmt.Errorf("pgdb: invalid schema identifier %q", schema)
	}
	if _, err := db.Exec(ctx, SchemaSQL(schema)); err != nil {
		return fmt.Errorf("pgdb: migrate: %w", err)
	}
	return nil
}
