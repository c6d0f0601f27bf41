// Package metrics holds the Prometheus collectors exported by the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// CRM metrics
	CRMRequestsTotal   *prometheus.CounterVec
	CRMRequestDuration *prometheus.HistogramVec
	TokenRefreshes     *prometheus.CounterVec

	// Business metrics
	SubmissionsTotal *prometheus.CounterVec
	FieldsRemoved    *prometheus.CounterVec
	DiagnosticTasks  *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CRMRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_requests_total",
				Help: "Total number of requests sent to the CRM API",
			},
			[]string{"method", "status"},
		),
		CRMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_request_duration_seconds",
				Help:    "CRM API latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TokenRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_token_refreshes_total",
				Help: "Access token exchanges by result",
			},
			[]string{"result"},
		),
		SubmissionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_submissions_total",
				Help: "Intake submissions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		FieldsRemoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_fields_removed_total",
				Help: "Fields dropped from a CRM write after a rejection",
			},
			[]string{"field"},
		),
		DiagnosticTasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_diagnostic_tasks_total",
				Help: "Diagnostic tasks written to the CRM by stage",
			},
			[]string{"stage"},
		),
		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_cache_hits_total",
				Help: "Catalog lookups served from cache",
			},
			[]string{"query"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_cache_misses_total",
				Help: "Catalog lookups that went to the CRM",
			},
			[]string{"query"},
		),
	}
}

// CRMRequest records one CRM call. status is 0 for transport failures.
func (m *Metrics) CRMRequest(method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.CRMRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.CRMRequestDuration.WithLabelValues(method).Observe(took.Seconds())
}

// TokenRefresh records a token exchange.
func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// Submission records the outcome of one submission.
func (m *Metrics) Submission(kind, outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// FieldRemoved records a field stripped by the recovery loop.
func (m *Metrics) FieldRemoved(field string) {
	if m == nil {
		return
	}
	m.FieldsRemoved.WithLabelValues(field).Inc()
}

// DiagnosticTask records a diagnostic task written for stage.
func (m *Metrics) DiagnosticTask(stage string) {
	if m == nil {
		return
	}
	m.DiagnosticTasks.WithLabelValues(stage).Inc()
}

// Cache records a catalog cache lookup.
func (m *Metrics) Cache(query string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(query).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(query).Inc()
}
