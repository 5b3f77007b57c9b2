package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks a candidate new password against the policy.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak {
		if looksVeryWeak(password) {
			return ErrWeakPassword
		}
	}

	return nil
}

// looksVeryWeak catches only the most trivial choices; it is not an entropy
// estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	allSame := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	onlyDigits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	lower := strings.ToLower(s)
	switch lower {
	case "password", "password123", "password1234", "123456", "123456789", "1234567890",
		"qwerty", "qwerty123", "qwertyuiop", "11111111", "letmein123", "welcome123":
		return true
	}

	return false
}
