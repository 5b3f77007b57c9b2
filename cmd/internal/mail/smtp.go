package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knadh/smtppool"
)

// pool is the part of *smtppool.Pool the sender uses.
type pool interface {
	Send(e smtppool.Email) error
	Close()
}

type dialFunc func(Server) (pool, error)

// SMTPSender renders templates and delivers through pooled SMTP connections,
// rotating across the configured relays.
type SMTPSender struct {
	servers ServerList

	mu    sync.Mutex
	pools []pool

	dial    dialFunc
	counter atomic.Uint64
	tpl     *Templates
	log     *slog.Logger
}

func NewSMTPSender(servers ServerList, tpl *Templates, log *slog.Logger) (*SMTPSender, error) {
	return newSMTPSender(servers, tpl, log, dialPool)
}

func newSMTPSender(servers ServerList, tpl *Templates, log *slog.Logger, dial dialFunc) (*SMTPSender, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: nil templates", ErrConfig)
	}
	if err := servers.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	s := &SMTPSender{servers: servers, dial: dial, tpl: tpl, log: log}
	s.pools = make([]pool, len(servers.Servers))
	var up int
	for i, srv := range servers.Servers {
		p, err := dial(srv)
		if err != nil {
			log.Error("mail.smtp.pool_failed", "server", srv.Address(), "err", err)
			continue
		}
		s.pools[i] = p
		up++
	}
	if up == 0 {
		return nil, fmt.Errorf("%w: no smtp server reachable", ErrConfig)
	}
	return s, nil
}

func dialPool(srv Server) (pool, error) {
	port, err := strconv.Atoi(srv.Port)
	if err != nil {
		return nil, err
	}

	var auth smtp.Auth
	if srv.Auth.Username != "" || srv.Auth.Password != "" {
		auth = smtp.PlainAuth("", srv.Auth.Username, srv.Auth.Password, srv.Host)
	}

	timeout := time.Duration(srv.SendTimeout) * time.Second
	return smtppool.New(smtppool.Opt{
		Host:            srv.Host,
		Port:            port,
		MaxConns:        srv.Connections,
		IdleTimeout:     timeout,
		PoolWaitTimeout: timeout,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: srv.InsecureSkipVerify, // #nosec G402 -- opt-in for local relays
			ServerName:         srv.Host,
			MinVersion:         tls.VersionTLS12,
		},
		Auth: auth,
	})
}

func (s *SMTPSender) Send(ctx context.Context, to, templateID string, data map[string]any) Result {
	if !validAddress(to) {
		return failed(ErrInvalidAddress)
	}
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	msg, err := s.tpl.Render(templateID, data)
	if err != nil {
		return failed(err)
	}

	i := int(s.counter.Add(1) % uint64(len(s.pools)))
	srv := s.servers.Servers[i]
	s.mu.Lock()
	p := s.pools[i]
	s.mu.Unlock()
	if p == nil {
		if p, err = s.redial(i); err != nil {
			return failed(err)
		}
	}

	err = p.Send(smtppool.Email{
		From:    s.servers.From,
		Sender:  s.servers.Sender,
		ReplyTo: s.servers.ReplyTo,
		To:      []string{to},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Headers: textproto.MIMEHeader{},
	})
	if err != nil {
		s.log.Error("mail.smtp.send_failed", "server", srv.Address(), "template", templateID, "err", err)
		// The pool may hold broken connections; rebuild it for the next send.
		if _, rerr := s.redial(i); rerr != nil {
			s.log.Error("mail.smtp.reconnect_failed", "server", srv.Address(), "err", rerr)
		}
		return failed(err)
	}
	return Result{OK: true}
}

// redial replaces pool i. A send already holding the old pool may fail once.
func (s *SMTPSender) redial(i int) (pool, error) {
	p, err := s.dial(s.servers.Servers[i])
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	old := s.pools[i]
	s.pools[i] = p
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return p, nil
}

// Close shuts every pool down.
func (s *SMTPSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pools {
		if p != nil {
			p.Close()
		}
	}
}
