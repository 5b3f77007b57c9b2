package pgdb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdent(t *testing.T) {
	assert.Equal(t, `"estate"."accounts"`, Ident("estate", "accounts"))
	assert.True(t, ValidIdent("estate_v2"))
	assert.False(t, ValidIdent(`estate"; drop`))
	assert.False(t, ValidIdent("1estate"))

	s, err := CheckSchema("test", "  tenant_a ")
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", s)

	_, err = CheckSchema("test", " ")
	assert.Error(t, err)
}

func TestInTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBeginTx(ReadWrite)
		mock.ExpectExec("UPDATE things").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := InTx(ctx, mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "UPDATE things SET x = 1")
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := fmt.Errorf("boom")
		mock.ExpectBeginTx(ReadWrite)
		mock.ExpectRollback()

		err := InTx(ctx, mock, func(pgx.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestViolations(t *testing.T) {
	uq := &pgconn.PgError{Code: "23505", ConstraintName: "UQ_Accounts_Email_Norm"}
	name, ok := UniqueViolation(fmt.Errorf("wrapped: %w", uq))
	assert.True(t, ok)
	assert.Equal(t, "uq_accounts_email_norm", name)

	_, ok = UniqueViolation(errors.New("plain"))
	assert.False(t, ok)

	assert.True(t, ForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, ForeignKeyViolation(uq))
}

func TestMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ddl := SchemaSQL("tenant_a")
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "tenant_a"."accounts"`)
	assert.NotContains(t, ddl, "{{schema}}")

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "tenant_a"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock, "tenant_a"))

	assert.Error(t, Migrate(context.Background(), mock, `bad"schema`))
	require.NoError(t, mock.ExpectationsWereMet())
}
