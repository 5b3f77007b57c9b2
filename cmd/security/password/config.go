package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy governs which new passwords are accepted at registration and reset.
// MaxLength also bounds KDF input on every Hash and Verify.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production cost baseline. One Hash with these
// params takes a few hundred milliseconds on a typical server core.
func DefaultConfig() Config {
	// Parallelism follows the host but stays in [1..4] for containers.
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      10,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - ESTATE_PASSWORD_MIN_LEN
//   - ESTATE_PASSWORD_MAX_LEN
//   - ESTATE_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - ESTATE_ARGON2_MEMORY_KIB
//   - ESTATE_ARGON2_ITERATIONS
//   - ESTATE_ARGON2_PARALLELISM
//   - ESTATE_ARGON2_SALT_LEN
//   - ESTATE_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"ESTATE_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"ESTATE_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := atoiRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	if v, ok := os.LookupEnv("ESTATE_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("ESTATE_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"ESTATE_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"ESTATE_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"ESTATE_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"ESTATE_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		u, err := atou32(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := os.LookupEnv("ESTATE_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("ESTATE_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- range-checked above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
