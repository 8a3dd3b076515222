// Package metrics exposes ledger and HTTP counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	reg *prometheus.Registry

	MarketsCreated      prometheus.Counter
	Stakes              *prometheus.CounterVec
	StakedAmount        *prometheus.CounterVec
	Resolutions         *prometheus.CounterVec
	Claims              prometheus.Counter
	PaidOut             prometheus.Counter
	InvariantViolations prometheus.Counter
	VaultBalance        *prometheus.GaugeVec
	LedgerErrors        *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	WSClients           prometheus.Gauge
}

// New builds the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "truthledger"
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		MarketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "markets_created_total", Help: "markets registered",
		}),
		Stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stakes_total", Help: "stakes placed by side",
		}, []string{"side"}),
		StakedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "staked_base_units_total", Help: "base units escrowed by side",
		}, []string{"side"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolutions_total", Help: "markets resolved by outcome",
		}, []string{"outcome"}),
		Claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "claims_paid_total", Help: "successful claims",
		}),
		PaidOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "paid_out_base_units_total", Help: "base units released to winners",
		}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "invariant_violations_total", Help: "conservation or vault invariant failures",
		}),
		VaultBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "vault_balance_base_units", Help: "current vault balance per market",
		}, []string{"market"}),
		LedgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_errors_total", Help: "rejected ledger operations by kind",
		}, []string{"op", "kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_clients", Help: "connected websocket clients",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MarketsCreated, m.Stakes, m.StakedAmount, m.Resolutions, m.Claims, m.PaidOut,
		m.InvariantViolations, m.VaultBalance, m.LedgerErrors,
		m.HTTPRequests, m.HTTPDuration, m.WSClients,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
