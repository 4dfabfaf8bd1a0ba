package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the credential engine
type Metrics struct {
	// RefreshTotal counts token refresh attempts by scheme and outcome
	RefreshTotal *prometheus.CounterVec
	// VerifyTotal counts verification calls by outcome
	VerifyTotal *prometheus.CounterVec
	// FlowTotal counts login flow completions by flow kind and outcome
	FlowTotal *prometheus.CounterVec
	// ReauthRequired tracks accounts currently needing re-authentication
	ReauthRequired prometheus.Gauge
	// BannedAccounts tracks accounts the backend has suspended
	BannedAccounts prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Token refresh attempts by scheme and outcome",
			},
			[]string{"scheme", "outcome"},
		),
		VerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verify_total",
				Help:      "Credential verification calls by outcome",
			},
			[]string{"outcome"},
		),
		FlowTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_total",
				Help:      "Login flow completions by kind and outcome",
			},
			[]string{"flow", "outcome"},
		),
		ReauthRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reauth_required_accounts",
				Help:      "Accounts currently requiring re-authentication",
			},
		),
		BannedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "banned_accounts",
				Help:      "Accounts the backend has suspended",
			},
		),
	}

	registry.MustRegister(
		m.RefreshTotal,
		m.VerifyTotal,
		m.FlowTotal,
		m.ReauthRequired,
		m.BannedAccounts,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
