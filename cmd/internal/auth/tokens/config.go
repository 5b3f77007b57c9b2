package tokens

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Format selects the wire format.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPaseto Format = "paseto"
)

// Config holds codec settings.
//
// Keys maps key id to hex key material: an HMAC secret of at least 32 bytes
// for JWT, or an Ed25519 secret key for PASETO. ActiveKeyID signs; every key
// verifies, so retiring a key is: add the new one, switch ActiveKeyID, drop the
// old one after the longest token TTL has passed.
type Config struct {
	Format      Format
	Issuer      string
	ClockSkew   time.Duration
	Keys        map[string]string
	ActiveKeyID string
}

func DefaultConfig() Config {
	return Config{
		Format:    FormatJWT,
		Issuer:    "estate",
		ClockSkew: 5 * time.Second,
	}
}

// Validate checks structural invariants shared by both formats.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if c.ClockSkew < 0 || c.ClockSkew > time.Minute {
		return fmt.Errorf("%w: clock skew out of range [0..1m]", ErrConfig)
	}
	if len(c.Keys) == 0 {
		return fmt.Errorf("%w: no keys", ErrConfig)
	}
	if _, ok := c.Keys[c.ActiveKeyID]; !ok {
		return fmt.Errorf("%w: active key %q not in key set", ErrConfig, c.ActiveKeyID)
	}
	return nil
}

// LoadConfigFromEnv loads codec configuration.
//
// Required:
//   - ESTATE_TOKEN_KEYS: comma-separated kid:hexkey pairs
//
// Optional:
//   - ESTATE_TOKEN_FORMAT (jwt|paseto, default jwt)
//   - ESTATE_TOKEN_ACTIVE_KID (default: the only key, or the lexically last kid)
//   - ESTATE_AUTH_ISSUER
//   - ESTATE_AUTH_CLOCK_SKEW
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("ESTATE_TOKEN_FORMAT")); v != "" {
		switch f := Format(strings.ToLower(v)); f {
		case FormatJWT, FormatPaseto:
			cfg.Format = f
		default:
			return Config{}, fmt.Errorf("%w: ESTATE_TOKEN_FORMAT=%q", ErrConfig, v)
		}
	}

	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("ESTATE_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: ESTATE_AUTH_CLOCK_SKEW", ErrConfig)
		}
		cfg.ClockSkew = d
	}

	keys, err := ParseKeySet(os.Getenv("ESTATE_TOKEN_KEYS"))
	if err != nil {
		return Config{}, err
	}
	cfg.Keys = keys

	cfg.ActiveKeyID = strings.TrimSpace(os.Getenv("ESTATE_TOKEN_ACTIVE_KID"))
	if cfg.ActiveKeyID == "" {
		ids := make([]string, 0, len(keys))
		for id := range keys {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		cfg.ActiveKeyID = ids[len(ids)-1]
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseKeySet parses "kid:hex,kid:hex".
func ParseKeySet(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: ESTATE_TOKEN_KEYS is empty", ErrConfig)
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		kid, key, ok := strings.Cut(strings.TrimSpace(part), ":")
		kid, key = strings.TrimSpace(kid), strings.TrimSpace(key)
		if !ok || kid == "" || key == "" {
			return nil, fmt.Errorf("%w: bad key entry", ErrConfig)
		}
		if _, dup := out[kid]; dup {
			return nil, fmt.Errorf("%w: duplicate kid %q", ErrConfig, kid)
		}
		out[kid] = key
	}
	return out, nil
}
