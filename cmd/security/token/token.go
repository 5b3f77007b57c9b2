package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// HMACEnvKey names the env var holding the at-rest hashing secret.
	// #nosec G101 -- an environment variable name, not a credential.
	HMACEnvKey = "ESTATE_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is enforced whenever HMAC mode is required.
	MinHMACKeyBytes = 32

	defaultOpaqueBytes = 32
)

// NewOpaque returns nBytes of crypto/rand output, base64url without padding.
// Non-positive nBytes selects 32 bytes (256 bits).
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultOpaqueBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hasher maps an opaque token to its storage key. The zero value hashes with
// plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHMACHasher returns a Hasher keyed with key. An empty key degrades to
// SHA-256.
func NewHMACHasher(key []byte) Hasher {
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from ESTATE_TOKEN_HMAC_KEY. With requireHMAC
// set, a missing or short key is an error instead of a SHA-256 fallback.
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		if requireHMAC {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	if requireHMAC && len(raw) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHMACHasher([]byte(raw)), nil
}

// Keyed reports whether the hasher uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex storage form of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
