package audit

import (
	"context"
	"log/slog"
	"strings"

	"estate/cmd/internal/pgdb"
)

// PostgresRecorder appends events to the audit_log table.
type PostgresRecorder struct {
	db    pgdb.DB
	table string
	log   *slog.Logger
}

func NewPostgresRecorder(db pgdb.DB, schema string, log *slog.Logger) (*PostgresRecorder, error) {
	if strings.TrimSpace(schema) == "" {
		schema = pgdb.DefaultSchema
	}
	schema, err := pgdb.CheckSchema("audit", schema)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRecorder{db: db, table: pgdb.Ident(schema, "audit_log"), log: log}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, e Event) {
	if r == nil || r.db == nil {
		return
	}
	e = withClientDefaults(ctx, e)
	if strings.TrimSpace(e.Action) == "" {
		return
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO `+r.table+` (action, outcome, reason, account_id, device_id, ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Action, e.Outcome, orNil(e.Reason), orNil(e.AccountID), orNil(e.DeviceID),
		orNil(e.IP), orNil(e.UserAgent), e.At.UTC(),
	)
	if err != nil {
		r.log.Error("audit.insert.fail", "err", err, "action", e.Action)
	}
}

func orNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
