// Package metrics provides Prometheus metrics collection for permbot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	PermissionChecks *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	RateLimitHits    prometheus.Counter
	MenuBuilds       prometheus.Counter
	AuditQueueDepth  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permbot_commands_total",
				Help: "Total command invocations by command and decision.",
			},
			[]string{"command", "decision"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permbot_command_duration_seconds",
				Help:    "Command gate processing duration by command.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		PermissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permbot_permission_checks_total",
				Help: "Total permission checks by result.",
			},
			[]string{"result"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permbot_permission_cache_lookups_total",
				Help: "Permission cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permbot_rate_limit_hits_total",
				Help: "Total command invocations denied by the rate limiter.",
			},
		),
		MenuBuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permbot_menu_builds_total",
				Help: "Total personalized menu builds.",
			},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "permbot_audit_queue_depth",
				Help: "Entries waiting in the asynchronous audit queue.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.CommandsTotal)
	reg.MustRegister(m.CommandDuration)
	reg.MustRegister(m.PermissionChecks)
	reg.MustRegister(m.CacheLookups)
	reg.MustRegister(m.RateLimitHits)
	reg.MustRegister(m.MenuBuilds)
	reg.MustRegister(m.AuditQueueDepth)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommand increments the command counter. Nil-safe.
func (m *Metrics) RecordCommand(command, decision string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, decision).Inc()
}

// ObserveCommandDuration records gate processing duration. Nil-safe.
func (m *Metrics) ObserveCommandDuration(command string, seconds float64) {
	if m == nil {
		return
	}
	m.CommandDuration.WithLabelValues(command).Observe(seconds)
}

// RecordPermissionCheck increments the check counter. Nil-safe.
func (m *Metrics) RecordPermissionCheck(result string) {
	if m == nil {
		return
	}
	m.PermissionChecks.WithLabelValues(result).Inc()
}

// RecordCacheLookup increments the cache lookup counter. Nil-safe.
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordRateLimitHit increments the rate limit counter. Nil-safe.
func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}

// RecordMenuBuild increments the menu build counter. Nil-safe.
func (m *Metrics) RecordMenuBuild() {
	if m == nil {
		return
	}
	m.MenuBuilds.Inc()
}

// SetAuditQueueDepth sets the audit queue gauge. Nil-safe.
func (m *Metrics) SetAuditQueueDepth(depth float64) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(depth)
}
