package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls request limits and client address resolution for the auth
// endpoints.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP budget for credential-guessing endpoints (login, forgot
	// password). The per-account lockout lives in the lockout package.
	IPMax    int
	IPWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20,
		IPMax:        20,
		IPWindow:     5 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults. Invalid values fall back to the default.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		TrustProxy:   envBool("ESTATE_AUTH_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("ESTATE_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		IPMax:        envInt("ESTATE_AUTH_IP_MAX", def.IPMax),
		IPWindow:     envDuration("ESTATE_AUTH_IP_WINDOW", def.IPWindow),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
