package session

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds the token lifetimes and reset link settings.
type Config struct {
	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh tokens. Refresh does not rotate
	// the refresh token, so this bounds how long a device stays signed in
	// without a password.
	RefreshTTL time.Duration

	// ResetLinkBase is the page that receives ?token=... in reset emails.
	ResetLinkBase string
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		ResetLinkBase: "http://localhost:8080/reset-password",
	}
}

func (c Config) Validate() error {
	if c.AccessTTL < 30*time.Second || c.AccessTTL > 24*time.Hour {
		return fmt.Errorf("%w: access ttl must be between 30s and 24h", ErrConfig)
	}
	if c.RefreshTTL < c.AccessTTL || c.RefreshTTL > 365*24*time.Hour {
		return fmt.Errorf("%w: refresh ttl must be between the access ttl and 8760h", ErrConfig)
	}
	u, err := url.Parse(c.ResetLinkBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: reset link base must be an absolute http(s) URL", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations are Go duration strings):
//   - ESTATE_AUTH_ACCESS_TTL
//   - ESTATE_AUTH_REFRESH_TTL
//   - ESTATE_RESET_LINK_BASE
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_ACCESS_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_ACCESS_TTL: %v", ErrConfig, err)
		}
		cfg.AccessTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_REFRESH_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_REFRESH_TTL: %v", ErrConfig, err)
		}
		cfg.RefreshTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("ESTATE_RESET_LINK_BASE")); v != "" {
		cfg.ResetLinkBase = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
