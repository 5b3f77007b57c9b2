// Package app wires the estate auth server: config, logging, stores, mail,
// metrics and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"estate/cmd/identity"
	"estate/cmd/internal/audit"
	authapi "estate/cmd/internal/auth/api"
	"estate/cmd/internal/auth/device"
	"estate/cmd/internal/auth/lockout"
	"estate/cmd/internal/auth/reset"
	"estate/cmd/internal/auth/session"
	"estate/cmd/internal/auth/tokens"
	"estate/cmd/internal/mail"
	"estate/cmd/internal/metrics"
	"estate/cmd/security/password"
)

// App is the estate server runtime. It owns every long-lived resource and
// closes them in Close.
type App struct {
	cfg Config
	log Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	metrics  *metrics.Metrics
	mailer   *mail.Dispatcher
	smtp     *mail.SMTPSender
	sessions *session.Service
	auth     *authapi.Handler
}

// New constructs a fully wired App. Without ESTATE_DATABASE_URL every store
// is in memory, which suits local development only.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	log := a.log
	if err := a.connect(ctx); err != nil {
		return err
	}

	accounts, devStore, err := a.accountStores()
	if err != nil {
		return err
	}

	devCfg, err := device.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	devices, err := device.NewRegistry(devStore, devCfg, device.WithLogger(log))
	if err != nil {
		return err
	}

	lockCfg, err := lockout.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	guard, err := lockout.NewGuard(accounts, lockCfg, lockout.WithLogger(log))
	if err != nil {
		return err
	}

	resets, err := a.resetService()
	if err != nil {
		return err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return err
	}
	tokCfg, err := tokens.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	codec, err := tokens.New(tokCfg)
	if err != nil {
		return err
	}

	if err := a.wireMail(); err != nil {
		return err
	}

	recorder := audit.Multi{audit.NewLogRecorder(log)}
	if a.db != nil {
		pgAudit, err := audit.NewPostgresRecorder(a.db, a.cfg.DBSchema, log)
		if err != nil {
			return err
		}
		recorder = append(recorder, pgAudit)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	a.sessions, err = session.NewService(sessCfg, session.Deps{
		Accounts: accounts,
		Hasher:   password.NewHasher(pwCfg),
		Codec:    codec,
		Devices:  devices,
		Lockout:  guard,
		Resets:   resets,
		Mailer:   a.mailer,
		Audit:    recorder,
		Metrics:  a.metrics,
		Log:      log,
	})
	if err != nil {
		return err
	}

	a.auth, err = authapi.NewHandler(a.sessions, authapi.LoadConfigFromEnv(), authapi.WithLogger(log))
	return err
}

// connect opens the Postgres pool and, for the redis reset backend, the
// Redis client.
func (a *App) connect(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		a.db = pool
		a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	} else {
		a.log.Warn("db.disabled.inmemory_store")
	}
	if a.cfg.ResetBackend == ResetBackendRedis {
		rdb, err := NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.rdb = rdb
	}
	return nil
}

func (a *App) accountStores() (identity.Store, device.Store, error) {
	if a.db == nil {
		accounts := identity.NewInMemoryStore()
		devices := device.NewInMemoryStore(func(ctx context.Context, id string) bool {
			_, err := accounts.FindByID(ctx, id)
			return err == nil
		})
		return accounts, devices, nil
	}
	accounts, err := identity.NewPostgresStore(a.db, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	devices, err := device.NewPostgresStore(a.db, device.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	return accounts, devices, nil
}

func (a *App) resetService() (*reset.Service, error) {
	var (
		store reset.Store
		err   error
	)
	switch a.cfg.ResetBackend {
	case ResetBackendRedis:
		store, err = reset.NewRedisStore(a.rdb)
	case ResetBackendPostgres:
		store, err = reset.NewPostgresStore(a.db, reset.WithSchema(a.cfg.DBSchema))
	default:
		store = reset.NewInMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	a.log.Info("reset.backend", "backend", a.cfg.ResetBackend)

	hasher, err := resetTokenHasher(a.cfg)
	if err != nil {
		return nil, err
	}
	resetCfg, err := reset.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return reset.NewService(store, hasher, resetCfg, reset.WithLogger(a.log))
}

func (a *App) wireMail() error {
	tpl, err := mail.LoadTemplates()
	if err != nil {
		return err
	}

	var sender mail.Sender
	if a.cfg.SMTPConfig != "" {
		servers, err := mail.ReadServerList(a.cfg.SMTPConfig)
		if err != nil {
			return err
		}
		smtpSender, err := mail.NewSMTPSender(servers, tpl, a.log)
		if err != nil {
			return err
		}
		a.smtp = smtpSender
		sender = smtpSender
	} else {
		a.log.Warn("mail.smtp.disabled", "hint", "set ESTATE_SMTP_CONFIG to deliver mail")
		sender = mail.NewLogSender(tpl, a.log)
	}

	dcfg, err := mail.LoadDispatcherConfigFromEnv()
	if err != nil {
		return err
	}
	a.mailer = mail.NewDispatcher(sender, dcfg,
		mail.WithDispatcherLogger(a.log),
		mail.WithResultHook(a.metrics.MailResult),
	)
	return nil
}

// Handler returns the full HTTP handler: health checks, metrics, auth routes and
// request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(mux, a.log, a.metrics, append(authapi.Routes(), "/healthz", "/readyz", "/metrics"))
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.db != nil, "reset_backend", a.cfg.ResetBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close finishes pending reset requests, drains queued mail, and releases
// pools. It is safe on a partly wired App.
func (a *App) Close() {
	if a.sessions != nil {
		a.sessions.Wait()
	}
	if a.mailer != nil {
		a.mailer.Close()
		a.mailer = nil
	}
	if a.smtp != nil {
		a.smtp.Close()
		a.smtp = nil
	}
	if a.rdb != nil {
		closeQuietly(a.log, "redis", a.rdb)
		a.rdb = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func closeQuietly(log Logger, what string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("close.fail", "resource", what, "err", err)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
