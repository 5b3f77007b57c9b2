package reset

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const DefaultTTL = time.Hour

type Config struct {
	// TTL is how long an issued ticket stays redeemable.
	TTL time.Duration
	// TokenBytes is the entropy of the opaque ticket.
	TokenBytes int
}

func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, TokenBytes: 32}
}

func (c Config) Validate() error {
	if c.TTL < time.Minute || c.TTL > 72*time.Hour {
		return fmt.Errorf("%w: ttl must be between 1m and 72h", ErrConfig)
	}
	if c.TokenBytes < 16 || c.TokenBytes > 64 {
		return fmt.Errorf("%w: token bytes must be in [16..64]", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv reads ESTATE_AUTH_RESET_TTL.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_RESET_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_RESET_TTL: %v", ErrConfig, err)
		}
		cfg.TTL = d
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
