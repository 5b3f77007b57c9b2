package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Cost ceiling for legacy digests; anything above is treated as tampered.
const maxLegacyBcryptCost = 14

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func verifyBcrypt(plaintext, digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil || cost > maxLegacyBcryptCost {
		return false
	}
	// bcrypt ignores input past 72 bytes and newer x/crypto rejects it outright.
	if len(plaintext) > 72 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
