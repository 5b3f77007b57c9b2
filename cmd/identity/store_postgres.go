package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"estate/cmd/internal/pgdb"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller. UpdateFailureState serializes on the
// account row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db     pgdb.DB
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema (default "estate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgdb.CheckSchema("identity", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

func NewPostgresStore(db pgdb.DB, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		db:     db,
		schema: pgdb.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return st, nil
}

const accountColumns = `id, email, email_norm, password_hash, role, consecutive_failures, locked_until, created_at, updated_at`

func (s *PostgresStore) accounts() string { return pgdb.Ident(s.schema, "accounts") }

func (s *PostgresStore) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	acct, err := newAccount(op, in)
	if err != nil {
		return Account{}, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.accounts()+` (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, 0, NULL, $6, $6)`,
		acct.ID, acct.Email, acct.EmailNorm, acct.PasswordHash, string(acct.Role), acct.CreatedAt,
	)
	if err != nil {
		if c, ok := pgdb.UniqueViolation(err); ok {
			field := "unique"
			if strings.Contains(c, "email") {
				field = "email"
			}
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.FindByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, invalid(op, "missing email")
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+` WHERE email_norm = $1`,
		norm,
	)
	return scanAccount(op, row)
}

func (s *PostgresStore) FindByID(ctx context.Context, accountID string) (Account, error) {
	const op = "identity.FindByID"

	if strings.TrimSpace(accountID) == "" {
		return Account{}, invalid(op, "missing account_id")
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.accounts()+` WHERE id = $1`,
		accountID,
	)
	return scanAccount(op, row)
}

func (s *PostgresStore) UpdateFailureState(ctx context.Context, accountID string, mutate FailureMutation, now time.Time) (FailureState, error) {
	const op = "identity.UpdateFailureState"

	if strings.TrimSpace(accountID) == "" {
		return FailureState{}, invalid(op, "missing account_id")
	}
	if mutate == nil {
		return FailureState{}, invalid(op, "nil mutation")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var next FailureState
	err := pgdb.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var cur FailureState
		err := tx.QueryRow(ctx,
			`SELECT consecutive_failures, locked_until
			   FROM `+s.accounts()+`
			  WHERE id = $1
			  FOR UPDATE`,
			accountID,
		).Scan(&cur.ConsecutiveFailures, &cur.LockedUntil)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return NotFoundError{Op: op, Resource: "account"}
			}
			return err
		}

		next = mutate(cur)
		if next.ConsecutiveFailures < 0 {
			next.ConsecutiveFailures = 0
		}

		_, err = tx.Exec(ctx,
			`UPDATE `+s.accounts()+`
			    SET consecutive_failures = $2, locked_until = $3, updated_at = $4
			  WHERE id = $1`,
			accountID, next.ConsecutiveFailures, next.LockedUntil, now,
		)
		return err
	})
	if err != nil {
		return FailureState{}, err
	}
	return next, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(accountID) == "" {
		return invalid(op, "missing account_id")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "missing password_hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.accounts()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		accountID, passwordHash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

func scanAccount(op string, row pgx.Row) (Account, error) {
	var (
		a    Account
		role string
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.EmailNorm,
		&a.PasswordHash,
		&role,
		&a.Failures.ConsecutiveFailures,
		&a.Failures.LockedUntil,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, err
	}
	r, ok := ParseRole(role)
	if !ok {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown stored role"}
	}
	a.Role = r
	return a, nil
}

// newAccount validates input and builds the row both stores insert.
func newAccount(op string, in CreateAccountInput) (Account, error) {
	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)
	if norm == "" || !strings.Contains(norm, "@") {
		return Account{}, invalid(op, "invalid email")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Account{}, invalid(op, "missing password_hash")
	}
	role := in.Role
	if role == "" {
		role = RoleCustomer
	}
	if _, ok := ParseRole(string(role)); !ok {
		return Account{}, invalid(op, "invalid role")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}
	return Account{
		ID:           id,
		Email:        email,
		EmailNorm:    norm,
		PasswordHash: in.PasswordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
