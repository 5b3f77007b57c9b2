package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"estate/cmd/internal/pgdb"
)

// PostgresStore keeps tickets in the reset_tickets table.
type PostgresStore struct {
	db     pgdb.DB
	schema string
}

type PostgresOption func(*PostgresStore) error

func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgdb.CheckSchema("reset", schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

func NewPostgresStore(db pgdb.DB, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{db: db, schema: pgdb.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.db == nil {
		return nil, fmt.Errorf("reset: nil db")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgdb.Ident(s.schema, "reset_tickets") }

func (s *PostgresStore) Insert(ctx context.Context, t Ticket) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+s.table()+` (token_hash, id, email, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.TokenHash, t.ID, t.Email, t.CreatedAt.UTC(), t.ExpiresAt.UTC(),
	)
	if _, dup := pgdb.UniqueViolation(err); dup {
		return fmt.Errorf("%w: duplicate ticket", ErrInvalidInput)
	}
	return err
}

func (s *PostgresStore) FindByToken(ctx context.Context, tokenHash string) (Ticket, error) {
	return scanTicket(s.db.QueryRow(ctx,
		`SELECT token_hash, id, email, created_at, expires_at
		   FROM `+s.table()+`
		  WHERE token_hash = $1`,
		tokenHash,
	))
}

// DeleteByToken relies on DELETE ... RETURNING: the row lock taken by the
// first delete makes a concurrent one see zero rows.
func (s *PostgresStore) DeleteByToken(ctx context.Context, tokenHash string) (Ticket, error) {
	return scanTicket(s.db.QueryRow(ctx,
		`DELETE FROM `+s.table()+`
		  WHERE token_hash = $1
		 RETURNING token_hash, id, email, created_at, expires_at`,
		tokenHash,
	))
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	if err := row.Scan(&t.TokenHash, &t.ID, &t.Email, &t.CreatedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, ErrNotFound
		}
		return Ticket{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return t, nil
}
