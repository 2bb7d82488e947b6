package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one proxy instance. Each
// proxy owns its registry, so several instances can run in one process.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    prometheus.Counter
	FailuresInjected *prometheus.CounterVec
	OpenConnections  prometheus.Gauge
	UpstreamErrors   prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaosproxy_requests_total",
			Help: "Total client requests parsed by the proxy.",
		}),

		FailuresInjected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaosproxy_failures_injected_total",
			Help: "Exchanges written back by drawn failure kind.",
		}, []string{"failure"}),

		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaosproxy_open_client_connections",
			Help: "Client connections currently being served.",
		}),

		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaosproxy_upstream_errors_total",
			Help: "Exchanges abandoned because the upstream failed.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.FailuresInjected,
		m.OpenConnections,
		m.UpstreamErrors,
	)

	return m
}
