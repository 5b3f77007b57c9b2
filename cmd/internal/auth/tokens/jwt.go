package tokens

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minHMACKeyBytes = 32

type jwtClaims struct {
	Role     string `json:"role,omitempty"`
	DeviceID string `json:"did,omitempty"`
	Kind     Kind   `json:"knd"`
	Ticket   string `json:"tkt,omitempty"`
	jwt.RegisteredClaims
}

// JWTCodec issues HS256 JWTs. The kid header selects the verification key.
type JWTCodec struct {
	issuer    string
	clockSkew time.Duration
	activeKID string
	keys      map[string][]byte
}

func NewJWTCodec(cfg Config) (*JWTCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keys := make(map[string][]byte, len(cfg.Keys))
	for kid, h := range cfg.Keys {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q is not hex", ErrConfig, kid)
		}
		if len(b) < minHMACKeyBytes {
			return nil, fmt.Errorf("%w: key %q shorter than %d bytes", ErrConfig, kid, minHMACKeyBytes)
		}
		keys[kid] = b
	}
	return &JWTCodec{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		activeKID: cfg.ActiveKeyID,
		keys:      keys,
	}, nil
}

func (c *JWTCodec) Issue(cl Claims, ttl time.Duration, now time.Time) (string, error) {
	cl, err := stamp(cl, ttl, now)
	if err != nil {
		return "", err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Role:     cl.Role,
		DeviceID: cl.DeviceID,
		Kind:     cl.Kind,
		Ticket:   cl.Ticket,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cl.ID,
			Subject:   cl.AccountID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(cl.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cl.ExpiresAt),
		},
	})
	tok.Header["kid"] = c.activeKID

	return tok.SignedString(c.keys[c.activeKID])
}

func (c *JWTCodec) Verify(token string, now time.Time) (Claims, error) {
	if !looksLikeJWT(token) {
		return Claims{}, reject(ErrMalformed, nil)
	}

	// Claim validation is disabled so expiry goes through checkExpiry like
	// every other deadline in estate.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)

	var jc jwtClaims
	_, err := p.ParseWithClaims(token, &jc, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := c.keys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	})
	if err != nil {
		// Structure was checked above; anything failing past that point is a
		// token we did not sign unchanged.
		return Claims{}, reject(ErrSignatureInvalid, err)
	}
	if jc.Issuer != c.issuer {
		return Claims{}, reject(ErrSignatureInvalid, fmt.Errorf("issuer %q", jc.Issuer))
	}

	out := Claims{
		ID:        jc.ID,
		AccountID: jc.Subject,
		Role:      jc.Role,
		DeviceID:  jc.DeviceID,
		Kind:      jc.Kind,
		Ticket:    jc.Ticket,
	}
	if jc.IssuedAt != nil {
		out.IssuedAt = jc.IssuedAt.UTC()
	}
	if jc.ExpiresAt != nil {
		out.ExpiresAt = jc.ExpiresAt.UTC()
	}
	if err := out.validate(); err != nil {
		return Claims{}, reject(ErrMalformed, err)
	}
	if err := checkExpiry(out, now, c.clockSkew); err != nil {
		return Claims{}, err
	}
	return out, nil
}

// looksLikeJWT accepts three non-empty base64url segments.
func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" || !isBase64URL(p) {
			return false
		}
	}
	return true
}

func isBase64URL(s string) bool {
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}
