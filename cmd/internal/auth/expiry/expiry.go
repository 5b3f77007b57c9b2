// Package expiry is the one place estate decides whether a timestamp has
// passed. Lockout windows, reset tickets, and token expiry all call IsExpired
// with an explicit now so skew handling and the clock source stay uniform.
package expiry

import "time"

// Clock is the time source injected into services. Tests pass a fixed clock.
type Clock func() time.Time

// SystemClock returns time.Now in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// IsExpired reports whether expiresAt is at or before now. A zero expiresAt
// never expires.
func IsExpired(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// IsExpiredWithSkew is IsExpired with a tolerance: expiresAt is treated as
// expiresAt+skew. Only token verification uses a non-zero skew.
func IsExpiredWithSkew(expiresAt, now time.Time, skew time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	if skew < 0 {
		skew = 0
	}
	return IsExpired(expiresAt.Add(skew), now)
}

// Active reports whether an optional deadline is set and still in the future.
func Active(until *time.Time, now time.Time) bool {
	return until != nil && !IsExpired(*until, now)
}
