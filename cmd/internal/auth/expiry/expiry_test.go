package expiry

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before", at.Add(-time.Nanosecond), false},
		{"exactly at", at, true},
		{"after", at.Add(time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpired(at, tc.now); got != tc.want {
				t.Fatalf("IsExpired(%v, %v) = %v, want %v", at, tc.now, got, tc.want)
			}
		})
	}

	if IsExpired(time.Time{}, at) {
		t.Fatalf("zero deadline must never expire")
	}
}

func TestIsExpiredWithSkew(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	skew := 5 * time.Second

	if IsExpiredWithSkew(at, at.Add(4*time.Second), skew) {
		t.Fatalf("within skew should not be expired")
	}
	if !IsExpiredWithSkew(at, at.Add(5*time.Second), skew) {
		t.Fatalf("at skew boundary should be expired")
	}
	if !IsExpiredWithSkew(at, at, -time.Minute) {
		t.Fatalf("negative skew is clamped to zero")
	}
}

func TestActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	if Active(nil, now) {
		t.Fatalf("nil deadline is not active")
	}
	if !Active(&future, now) {
		t.Fatalf("future deadline is active")
	}
	if Active(&past, now) {
		t.Fatalf("past deadline is not active")
	}
}
