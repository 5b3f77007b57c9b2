package lockout

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrConfig       = errors.New("lockout: invalid config")
	ErrInvalidInput = errors.New("lockout: invalid input")
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

type Config struct {
	// Threshold is the number of consecutive failures that engages the lock.
	Threshold int
	// Duration is how long the lock holds once engaged.
	Duration time.Duration
}

func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

func (c Config) Validate() error {
	if c.Threshold < 1 || c.Threshold > 100 {
		return fmt.Errorf("%w: threshold must be in [1..100]", ErrConfig)
	}
	if c.Duration < time.Second || c.Duration > 7*24*time.Hour {
		return fmt.Errorf("%w: duration must be between 1s and 168h", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv reads:
//   - ESTATE_AUTH_LOCKOUT_THRESHOLD (default 5)
//   - ESTATE_AUTH_LOCKOUT_DURATION (Go duration, default 30m)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_LOCKOUT_THRESHOLD")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_LOCKOUT_THRESHOLD: %v", ErrConfig, err)
		}
		cfg.Threshold = n
	}
	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_LOCKOUT_DURATION")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_LOCKOUT_DURATION: %v", ErrConfig, err)
		}
		cfg.Duration = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
