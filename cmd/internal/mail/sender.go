package mail

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"sync"
)

var (
	ErrUnknownTemplate = errors.New("mail: unknown template")
	ErrInvalidAddress  = errors.New("mail: invalid address")
	ErrConfig          = errors.New("mail: invalid config")
)

// Result is the outcome of one delivery attempt.
type Result struct {
	OK  bool
	Err string
}

func failed(err error) Result { return Result{Err: err.Error()} }

// Sender delivers one templated message.
type Sender interface {
	Send(ctx context.Context, to, templateID string, data map[string]any) Result
}

func validAddress(to string) bool {
	a, err := mail.ParseAddress(to)
	return err == nil && a.Address == to
}

// LogSender renders the message and logs it instead of sending. It is the
// fallback when no SMTP relay is configured.
type LogSender struct {
	tpl *Templates
	log *slog.Logger
}

func NewLogSender(tpl *Templates, log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{tpl: tpl, log: log}
}

func (s *LogSender) Send(ctx context.Context, to, templateID string, data map[string]any) Result {
	if !validAddress(to) {
		return failed(ErrInvalidAddress)
	}
	msg, err := s.tpl.Render(templateID, data)
	if err != nil {
		return failed(err)
	}
	s.log.InfoContext(ctx, "mail.log_sender",
		"template", templateID,
		"subject", msg.Subject,
		"bytes", len(msg.HTML),
	)
	return Result{OK: true}
}

// Sent is one message captured by RecordingSender.
type Sent struct {
	To         string
	TemplateID string
	Data       map[string]any
}

// RecordingSender keeps every message in memory. Fail, when set, decides the
// result per message.
type RecordingSender struct {
	mu   sync.Mutex
	sent []Sent

	Fail func(to, templateID string) error
}

func (s *RecordingSender) Send(_ context.Context, to, templateID string, data map[string]any) Result {
	s.mu.Lock()
	s.sent = append(s.sent, Sent{To: to, TemplateID: templateID, Data: data})
	fail := s.Fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(to, templateID); err != nil {
			return failed(err)
		}
	}
	return Result{OK: true}
}

// Messages returns a copy of everything sent so far.
func (s *RecordingSender) Messages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}
