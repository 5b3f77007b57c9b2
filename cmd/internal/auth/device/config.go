package device

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultCap = 2
	maxCap     = 64
)

type Config struct {
	// Cap is the maximum number of simultaneously active devices per account.
	Cap int
}

func DefaultConfig() Config { return Config{Cap: DefaultCap} }

// LoadConfigFromEnv reads ESTATE_AUTH_DEVICE_CAP.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_DEVICE_CAP")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxCap {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_DEVICE_CAP must be in [1..%d]", ErrConfig, maxCap)
		}
		cfg.Cap = n
	}
	return cfg, nil
}
