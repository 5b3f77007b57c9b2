// Package metrics exposes estate's Prometheus collectors. Every method is
// safe on a nil *Metrics, which is how tests and tools run without a
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "estate"

type Metrics struct {
	reg *prometheus.Registry

	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	evictions prometheus.Counter
	lockouts  prometheus.Counter
	resets    *prometheus.CounterVec
	mail      *prometheus.CounterVec
	requests  *prometheus.HistogramVec
}

// New builds a private registry with the estate collectors plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "device_evictions_total",
			Help:      "Device sessions evicted to honour the device cap.",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Account locks engaged after repeated failures.",
		}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "password_resets_total",
			Help:      "Password reset tickets by stage (requested, issued, completed, rejected).",
		}, []string{"stage"}),
		mail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mail",
			Name:      "deliveries_total",
			Help:      "Email deliveries by template and result (ok, failed, dropped).",
		}, []string{"template", "result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.refreshes, m.evictions, m.lockouts, m.resets, m.mail, m.requests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Login(outcome, reason string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) Refresh(outcome, reason string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) DeviceEvicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) LockoutEngaged() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) Reset(stage string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(stage).Inc()
}

// MailResult matches mail.ResultHook. The free-form reason is not used as a
// label; only "dropped" is distinguished from other failures.
func (m *Metrics) MailResult(templateID string, ok bool, reason string) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case ok:
	case reason == "dropped":
		result = "dropped"
	default:
		result = "failed"
	}
	m.mail.WithLabelValues(templateID, result).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}
