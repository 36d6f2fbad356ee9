// Package metrics exposes Prometheus instruments of the activation ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyledger"

// Submission outcomes.
const (
	OutcomeCredited    = "credited"
	OutcomeDuplicate   = "duplicate"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Status query results.
const (
	StatusFound    = "found"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Metrics groups the ledger instruments registered on one registry.
type Metrics struct {
	reg prometheus.Gatherer

	submissions *prometheus.CounterVec
	status      *prometheus.CounterVec
	years       prometheus.Gauge
}

// New registers the instruments on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_submissions_total",
			Help:      "License key submissions by outcome",
		}, []string{"outcome"}),
		status: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_requests_total",
			Help:      "Activation status queries by result",
		}, []string{"result"}),
		years: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activation_years",
			Help:      "Years credited to this deployment",
		}),
	}
}

// Submission counts one activation attempt.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// StatusRequest counts one status query.
func (m *Metrics) StatusRequest(result string) {
	if m == nil {
		return
	}
	m.status.WithLabelValues(result).Inc()
}

// SetYears records the current credited years.
func (m *Metrics) SetYears(years int) {
	if m == nil {
		return
	}
	m.years.Set(float64(years))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
