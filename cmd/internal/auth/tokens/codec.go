package tokens

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"estate/cmd/internal/auth/expiry"
)

// Codec issues and verifies tokens. now is always explicit so callers share
// one clock.
type Codec interface {
	// Issue signs c with the active key. IssuedAt and ExpiresAt are set from
	// now and ttl; ID is generated when empty.
	Issue(c Claims, ttl time.Duration, now time.Time) (string, error)

	// Verify returns the claims of a well-formed, authentic, unexpired token.
	// Failures are *RejectedError.
	Verify(token string, now time.Time) (Claims, error)
}

// New builds the codec selected by cfg.Format.
func New(cfg Config) (Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case FormatJWT:
		return NewJWTCodec(cfg)
	case FormatPaseto:
		return NewPasetoCodec(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrConfig, cfg.Format)
	}
}

// stamp fills the time and id fields shared by both formats. Times are
// truncated to whole seconds because both wire formats encode seconds.
func stamp(c Claims, ttl time.Duration, now time.Time) (Claims, error) {
	if ttl <= 0 {
		return Claims{}, fmt.Errorf("tokens: non-positive ttl")
	}
	if err := c.validate(); err != nil {
		return Claims{}, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	c.IssuedAt = now.UTC().Truncate(time.Second)
	c.ExpiresAt = now.UTC().Add(ttl).Truncate(time.Second)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return c, nil
}

// checkExpiry is the single expiry decision for both formats.
func checkExpiry(c Claims, now time.Time, skew time.Duration) error {
	if c.ExpiresAt.IsZero() {
		return reject(ErrMalformed, fmt.Errorf("missing expiry"))
	}
	if expiry.IsExpiredWithSkew(c.ExpiresAt, now, skew) {
		return reject(ErrExpired, nil)
	}
	return nil
}
