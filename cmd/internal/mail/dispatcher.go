package mail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one queued delivery.
type Message struct {
	To         string
	TemplateID string
	Data       map[string]any
}

// DispatcherConfig sizes the queue and worker pool.
type DispatcherConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BufferSize: 256, Workers: 2, SendTimeout: 30 * time.Second}
}

// LoadDispatcherConfigFromEnv reads ESTATE_MAIL_QUEUE_SIZE and ESTATE_MAIL_WORKERS.
func LoadDispatcherConfigFromEnv() (DispatcherConfig, error) {
	cfg := DefaultDispatcherConfig()
	for _, f := range []struct {
		env string
		dst *int
		max int
	}{
		{"ESTATE_MAIL_QUEUE_SIZE", &cfg.BufferSize, 1 << 16},
		{"ESTATE_MAIL_WORKERS", &cfg.Workers, 64},
	} {
		v := strings.TrimSpace(os.Getenv(f.env))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > f.max {
			return DispatcherConfig{}, fmt.Errorf("%w: %s must be in [1..%d]", ErrConfig, f.env, f.max)
		}
		*f.dst = n
	}
	return cfg, nil
}

// ResultHook observes every finished delivery, including dropped ones
// (reported with ok=false and reason "dropped").
type ResultHook func(templateID string, ok bool, reason string)

// Dispatcher delivers messages on background workers. Dispatch never blocks:
// when the queue is full the message is dropped and counted.
type Dispatcher struct {
	sender  Sender
	cfg     DispatcherConfig
	log     *slog.Logger
	onDone  ResultHook
	ch      chan Message
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64

	// mu orders Dispatch against Close: once Close holds it, nothing more
	// enters ch, so the workers' final drain sees every accepted message.
	mu     sync.RWMutex
	closed bool
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithResultHook(h ResultHook) DispatcherOption {
	return func(d *Dispatcher) { d.onDone = h }
}

// NewDispatcher starts cfg.Workers goroutines. Call Close to drain and stop.
func NewDispatcher(sender Sender, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}

	d := &Dispatcher{
		sender: sender,
		cfg:    cfg,
		log:    slog.Default(),
		ch:     make(chan Message, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case m := <-d.ch:
			d.deliver(m)
		case <-d.done:
			for {
				select {
				case m := <-d.ch:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	res := d.sender.Send(ctx, m.To, m.TemplateID, m.Data)
	if !res.OK {
		d.failed.Add(1)
		d.log.Error("mail.dispatch.failed", "template", m.TemplateID, "err", res.Err)
	}
	if d.onDone != nil {
		d.onDone(m.TemplateID, res.OK, res.Err)
	}
}

// Dispatch queues m and reports whether it was accepted.
func (d *Dispatcher) Dispatch(m Message) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("mail.dispatch.closed", "template", m.TemplateID)
		return false
	}
	select {
	case d.ch <- m:
		return true
	default:
		d.dropped.Add(1)
		d.log.Warn("mail.dispatch.dropped", "template", m.TemplateID)
		if d.onDone != nil {
			d.onDone(m.TemplateID, false, "dropped")
		}
		return false
	}
}

// Close stops accepting messages, delivers what is queued, and waits for the
// workers. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
}

// Dropped counts messages refused because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts deliveries the sender reported as unsuccessful.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
