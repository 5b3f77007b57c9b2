// Package audit records security-relevant auth events.
//
// Recording never fails the caller. A recorder that cannot persist an event
// logs the problem and moves on.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event is one audit row. Action uses the dotted event names also used in
// logs, e.g. "auth.login".
type Event struct {
	Action    string
	Outcome   string
	Reason    string
	AccountID string
	DeviceID  string
	IP        string
	UserAgent string
	At        time.Time
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

type clientKey struct{}

type client struct {
	ip string
	ua string
}

// WithClient attaches the caller's address and user agent to ctx. Recorders
// fill them into events that leave IP or UserAgent empty.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{ip: strings.TrimSpace(ip), ua: strings.TrimSpace(userAgent)})
}

func withClientDefaults(ctx context.Context, e Event) Event {
	if c, ok := ctx.Value(clientKey{}).(client); ok {
		if e.IP == "" {
			e.IP = c.ip
		}
		if e.UserAgent == "" {
			e.UserAgent = c.ua
		}
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if len(e.UserAgent) > 512 {
		e.UserAgent = e.UserAgent[:512]
	}
	return e
}

// LogRecorder writes events to a slog.Logger.
type LogRecorder struct {
	log *slog.Logger
}

func NewLogRecorder(log *slog.Logger) *LogRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &LogRecorder{log: log}
}

func (r *LogRecorder) Record(ctx context.Context, e Event) {
	e = withClientDefaults(ctx, e)
	level := slog.LevelInfo
	if e.Outcome == OutcomeFailure {
		level = slog.LevelWarn
	}
	r.log.LogAttrs(ctx, level, e.Action,
		slog.String("outcome", e.Outcome),
		slog.String("reason", e.Reason),
		slog.String("account_id", e.AccountID),
		slog.String("device_id", e.DeviceID),
		slog.String("ip", e.IP),
	)
}

// Multi fans an event out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, e)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
