// Package telemetry exposes Prometheus metrics for the billing service.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the service records. One instance is
// created at startup and shared by the HTTP layer and the background
// workers.
type Metrics struct {
	registry *prometheus.Registry

	RequestsOpened  *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	GatewayErrors   *prometheus.CounterVec
	PollerRuns      prometheus.Counter
	SweeperRuns     prometheus.Counter
	ExpiredRequests prometheus.Counter
	ActiveRequests  *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		RequestsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_change_requests_opened_total",
			Help: "Change requests opened, by kind.",
		}, []string{"kind"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_change_request_transitions_total",
			Help: "Successful lifecycle transitions, by resulting status.",
		}, []string{"status"}),
		GatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_gateway_errors_total",
			Help: "Failed calls to external gateways, by gateway.",
		}, []string{"gateway"}),
		PollerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_payment_poller_runs_total",
			Help: "Completed payment poller sweeps.",
		}),
		SweeperRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_expiry_sweeper_runs_total",
			Help: "Completed expiry sweeper sweeps.",
		}),
		ExpiredRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_change_requests_expired_total",
			Help: "Change requests expired by the sweeper.",
		}),
		ActiveRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "billing_change_requests",
			Help: "Current number of change requests, by status.",
		}, []string{"status"}),
	}
	registry.MustRegister(
		m.RequestsOpened,
		m.Transitions,
		m.GatewayErrors,
		m.PollerRuns,
		m.SweeperRuns,
		m.ExpiredRequests,
		m.ActiveRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
