package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ipLimiter is a per-key sliding-window limiter kept in process memory.
// Keys are client IPs; an empty key is never limited.
type ipLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	sweep  time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// allow records an attempt for key at now unless the window is full, in which
// case it reports how long until the oldest attempt ages out.
func (l *ipLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" || l.limit <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweep) >= l.window {
		l.evictIdle(now)
		l.sweep = now
	}

	events := pruneWindow(now, l.events[key], l.window)
	if blocked, retry := evaluateWindowThrottle(now, events, l.limit, l.window); blocked {
		l.events[key] = events
		return false, retry
	}
	l.events[key] = append(events, now)
	return true, 0
}

func (l *ipLimiter) evictIdle(now time.Time) {
	for k, events := range l.events {
		if kept := pruneWindow(now, events, l.window); len(kept) == 0 {
			delete(l.events, k)
		} else {
			l.events[k] = kept
		}
	}
}

func pruneWindow(now time.Time, events []time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}

// evaluateWindowThrottle reports whether events inside the window already
// reach limit and, if so, when the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, events []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	cut := now.Add(-window)
	var (
		n      int
		oldest time.Time
	)
	for _, t := range events {
		if !t.After(cut) {
			continue
		}
		n++
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	if n < limit {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
