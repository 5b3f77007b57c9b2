package app

import (
	"fmt"
	"strings"
	"time"

	"estate/cmd/internal/pgdb"
)

// Reset ticket backends selectable with ESTATE_RESET_BACKEND.
const (
	ResetBackendPostgres = "postgres"
	ResetBackendRedis    = "redis"
	ResetBackendMemory   = "memory"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string

	LogLevel  string
	LogFormat string // json | pretty
	LogFile   LogFileConfig

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL     string
	ResetBackend string

	// SMTPConfig is a YAML server list; empty logs mail instead of sending.
	SMTPConfig string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, ESTATE_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so reset
	// tickets are stored as keyed hashes.
	RequireTokenHMAC bool
}

// LogFileConfig configures the optional rotating log file.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// LoadConfig loads Config from environment variables with defaults. Names
// below are read with EnvPrefix, so "HTTP_ADDR" is ESTATE_HTTP_ADDR.
func LoadConfig() Config {
	cfg := Config{
		HTTPAddr: EnvString("HTTP_ADDR", "0.0.0.0:8080"),

		LogLevel:  EnvString("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("LOG_FORMAT", "json")),
		LogFile: LogFileConfig{
			Path:       EnvString("LOG_FILE", ""),
			MaxSizeMB:  EnvInt("LOG_MAX_SIZE_MB", 100),
			MaxAgeDays: EnvInt("LOG_MAX_AGE_DAYS", 28),
			MaxBackups: EnvInt("LOG_MAX_BACKUPS", 7),
			Compress:   EnvBool("LOG_COMPRESS", true),
		},

		ReadHeaderTimeout: EnvDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("DATABASE_URL", ""),
		DBSchema:    EnvString("DB_SCHEMA", pgdb.DefaultSchema),
		DBMaxConns:  EnvInt32("DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("DB_MIN_CONNS", 0),

		RedisURL:     EnvString("REDIS_URL", ""),
		ResetBackend: strings.ToLower(EnvString("RESET_BACKEND", "")),

		SMTPConfig: EnvString("SMTP_CONFIG", ""),

		ReadinessRequireDB: EnvBool("READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("REQUIRE_TOKEN_HMAC", false),
	}
	if cfg.ResetBackend == "" {
		cfg.ResetBackend = defaultResetBackend(cfg)
	}
	return cfg
}

func defaultResetBackend(cfg Config) string {
	switch {
	case cfg.RedisURL != "":
		return ResetBackendRedis
	case cfg.DatabaseURL != "":
		return ResetBackendPostgres
	default:
		return ResetBackendMemory
	}
}

// Validate rejects combinations that cannot be wired.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("ESTATE_LOG_FORMAT=%q: want json or pretty", c.LogFormat)
	}
	switch c.ResetBackend {
	case ResetBackendMemory:
	case ResetBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("ESTATE_RESET_BACKEND=postgres requires ESTATE_DATABASE_URL")
		}
	case ResetBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("ESTATE_RESET_BACKEND=redis requires ESTATE_REDIS_URL")
		}
	default:
		return fmt.Errorf("ESTATE_RESET_BACKEND=%q: want postgres, redis or memory", c.ResetBackend)
	}
	if !pgdb.ValidIdent(c.DBSchema) {
		return fmt.Errorf("ESTATE_DB_SCHEMA=%q is not a valid identifier", c.DBSchema)
	}
	return nil
}
