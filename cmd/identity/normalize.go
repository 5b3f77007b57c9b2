package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization. Uniqueness and
// lookups always use the normalized form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
