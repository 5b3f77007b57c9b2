package app

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"estate/cmd/internal/pgdb"
)

const usage = `usage: estate [command]

commands:
  serve                  run the HTTP server (default)
  migrate                apply the database schema to ESTATE_DB_SCHEMA
  purge-reset-tickets    delete expired password reset tickets
`

// Run is the CLI entrypoint used by cmd/estate.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	cfg := LoadConfig()
	log, logCloser := NewLogger(cfg)
	defer func() { _ = logCloser.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		a, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	case "migrate":
		return migrate(ctx, cfg, log)
	case "purge-reset-tickets":
		n, err := purgeResetTickets(ctx, cfg, log, time.Now())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "purged %d expired reset tickets\n", n)
		return nil
	case "help", "-h", "--help":
		_, _ = io.WriteString(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func migrate(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate: ESTATE_DATABASE_URL is not set")
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgdb.Migrate(ctx, pool, cfg.DBSchema); err != nil {
		return err
	}
	log.Info("db.migrate.ok", "schema", cfg.DBSchema)
	return nil
}

// purgeResetTickets connects only what the reset backend needs. Expired
// tickets are already rejected on use; this bounds storage.
func purgeResetTickets(ctx context.Context, cfg Config, log Logger, now time.Time) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	a := &App{cfg: cfg, log: log}
	defer a.Close()
	if err := a.connect(ctx); err != nil {
		return 0, err
	}
	resets, err := a.resetService()
	if err != nil {
		return 0, err
	}
	n, err := resets.PurgeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	log.Info("reset.purge.ok", "deleted", n, "backend", cfg.ResetBackend)
	return n, nil
}
