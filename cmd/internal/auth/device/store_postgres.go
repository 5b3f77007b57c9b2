package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"estate/cmd/internal/pgdb"
)

// PostgresStore implements Store over PostgreSQL. WithinAccount serializes on
// the account row (SELECT ... FOR UPDATE), which also covers accounts that do
// not have any device rows yet.
type PostgresStore struct {
	db     pgdb.DB
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema (default "estate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgdb.CheckSchema("device", schema)
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
		return nil, fmt.Errorf("device: nil db")
	}
	return st, nil
}

const sessionColumns = `account_id, device_id, device_label, created_at, last_active_at, is_active, deactivated_at, deactivated_by`

func (s *PostgresStore) sessions() string { return pgdb.Ident(s.schema, "device_sessions") }
func (s *PostgresStore) accounts() string { return pgdb.Ident(s.schema, "accounts") }

func (s *PostgresStore) WithinAccount(ctx context.Context, accountID string, fn func(Tx) error) error {
	return pgdb.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id FROM `+s.accounts()+` WHERE id = $1 FOR UPDATE`,
			accountID,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		return fn(&pgTx{tx: tx, store: s, accountID: accountID})
	})
}

func (s *PostgresStore) IsActive(ctx context.Context, accountID, deviceID string) (bool, error) {
	var active bool
	err := s.db.QueryRow(ctx,
		`SELECT is_active FROM `+s.sessions()+` WHERE account_id = $1 AND device_id = $2`,
		accountID, deviceID,
	).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return active, nil
}

func (s *PostgresStore) Touch(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET last_active_at = GREATEST(last_active_at, $3)
		  WHERE account_id = $1 AND device_id = $2 AND is_active`,
		accountID, deviceID, now.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkInactive(ctx context.Context, accountID, deviceID string, reason Reason, now time.Time) (bool, error) {
	return markInactive(ctx, s.db, s.sessions(), accountID, deviceID, reason, now)
}

func (s *PostgresStore) MarkAllInactiveExcept(ctx context.Context, accountID, keepDeviceID string, reason Reason, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.sessions()+`
		    SET is_active = FALSE, deactivated_at = $3, deactivated_by = $4
		  WHERE account_id = $1 AND is_active AND ($2::text = '' OR device_id <> $2::text)`,
		accountID, keepDeviceID, now.UTC(), string(reason),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListActive(ctx context.Context, accountID string) ([]Session, error) {
	return findActive(ctx, s.db, s.sessions(), accountID)
}

// pgTx scopes device statements to the locked account.
type pgTx struct {
	tx        pgx.Tx
	store     *PostgresStore
	accountID string
}

func (t *pgTx) FindActiveByAccount(ctx context.Context) ([]Session, error) {
	return findActive(ctx, t.tx, t.store.sessions(), t.accountID)
}

func (t *pgTx) UpsertActive(ctx context.Context, deviceID, label string, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO `+t.store.sessions()+` (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $4, TRUE, NULL, NULL)
		 ON CONFLICT (account_id, device_id) DO UPDATE
		    SET device_label = EXCLUDED.device_label,
		        last_active_at = EXCLUDED.last_active_at,
		        is_active = TRUE,
		        deactivated_at = NULL,
		        deactivated_by = NULL`,
		t.accountID, deviceID, label, now.UTC(),
	)
	return err
}

func (t *pgTx) MarkInactive(ctx context.Context, deviceID string, reason Reason, now time.Time) (bool, error) {
	return markInactive(ctx, t.tx, t.store.sessions(), t.accountID, deviceID, reason, now)
}

// querier is satisfied by both pgdb.DB and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func markInactive(ctx context.Context, e execer, table, accountID, deviceID string, reason Reason, now time.Time) (bool, error) {
	tag, err := e.Exec(ctx,
		`UPDATE `+table+`
		    SET is_active = FALSE, deactivated_at = $3, deactivated_by = $4
		  WHERE account_id = $1 AND device_id = $2 AND is_active`,
		accountID, deviceID, now.UTC(), string(reason),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func findActive(ctx context.Context, q querier, table, accountID string) ([]Session, error) {
	rows, err := q.Query(ctx,
		`SELECT `+sessionColumns+`
		   FROM `+table+`
		  WHERE account_id = $1 AND is_active
		  ORDER BY last_active_at ASC, created_at ASC, device_id ASC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess Session
			by   *string
		)
		if err := rows.Scan(
			&sess.AccountID,
			&sess.DeviceID,
			&sess.Label,
			&sess.CreatedAt,
			&sess.LastActiveAt,
			&sess.Active,
			&sess.DeactivatedAt,
			&by,
		); err != nil {
			return nil, err
		}
		if by != nil {
			sess.DeactivatedBy = Reason(*by)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
