package app

import (
	"errors"

	"estate/cmd/security/token"
)

// resetTokenHasher builds the at-rest hasher for reset tickets and enforces
// the ESTATE_REQUIRE_TOKEN_HMAC policy. Startup fails rather than falling
// back to plain SHA-256 when the policy is on.
func resetTokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: ESTATE_REQUIRE_TOKEN_HMAC=true but ESTATE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, errors.New("security policy: ESTATE_REQUIRE_TOKEN_HMAC=true but ESTATE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Hasher{}, err
		}
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: ESTATE_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
