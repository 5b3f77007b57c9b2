package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Version = 19 // argon2.Version is 0x13

	argon2Prefix = "$argon2id$"
)

// Hasher hashes and verifies passwords. The zero value is not usable; build one
// with NewHasher. A Hasher is safe for concurrent use.
type Hasher struct {
	cfg Config
}

func NewHasher(cfg Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// Config returns the configuration the hasher was built with.
func (h *Hasher) Config() Config { return h.cfg }

// Hash returns a new Argon2id digest with a fresh random salt.
//
// Policy is not applied here (see Config.Validate); only the maximum length is
// enforced so the KDF never runs on unbounded input.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if utf8.RuneCountInString(plaintext) > h.cfg.Policy.MaxLength {
		return "", ErrPasswordTooLong
	}

	p := h.cfg.Params
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches digest. It never returns an error:
// malformed, unsupported, or out-of-bounds digests simply do not match.
func (h *Hasher) Verify(plaintext, digest string) bool {
	if utf8.RuneCountInString(plaintext) > h.cfg.Policy.MaxLength {
		return false
	}

	switch {
	case strings.HasPrefix(digest, argon2Prefix):
		return h.verifyArgon2id(plaintext, digest)
	case isBcrypt(digest):
		return verifyBcrypt(plaintext, digest)
	default:
		return false
	}
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash output:
// legacy bcrypt digests and Argon2id digests weaker than the current params.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	params, _, _, err := decode(digest)
	if err != nil {
		return true
	}
	cur := h.cfg.Params
	return params.MemoryKiB < cur.MemoryKiB ||
		params.Iterations < cur.Iterations ||
		params.KeyLength < cur.KeyLength
}

func (h *Hasher) verifyArgon2id(plaintext, digest string) bool {
	params, salt, expected, err := decode(digest)
	if err != nil {
		return false
	}
	if !withinReasonableBounds(params, h.cfg.Params) {
		return false
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by withinReasonableBounds.
	)
	return subtle.ConstantTimeCompare(key, expected) == 1
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	// Older, cheaper settings are fine; wildly larger ones are not.
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

// decode parses a PHC Argon2id string into its params, salt and key.
func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- base64 segment of a DB column.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- base64 segment of a DB column.
	}, salt, key, nil
}
