package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway client runtime
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	CallErrorsTotal *prometheus.CounterVec
	RetriesTotal    prometheus.Counter

	// Connection metrics
	ReconnectsTotal   prometheus.Counter
	ConnectionState   prometheus.Gauge
	PendingRequests   prometheus.Gauge
	AuthFailuresTotal prometheus.Counter

	// Protection metrics
	CircuitOpenTotal *prometheus.CounterVec
	RateLimitWaits   prometheus.Counter

	// Cache metrics
	DedupHitsTotal        prometheus.Counter
	SemanticHitsTotal     prometheus.Counter
	SemanticMissesTotal   prometheus.Counter
	EventsDispatchedTotal prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_calls_total",
				Help: "Total number of gateway calls",
			},
			[]string{"method", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_call_duration_seconds",
				Help:    "Duration of gateway calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		CallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_call_errors_total",
				Help: "Total number of gateway call errors by kind",
			},
			[]string{"method", "kind"},
		),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total number of call retries",
		}),

		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_reconnects_total",
			Help: "Total number of reconnection attempts",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connection_state",
			Help: "Current connection state (0=disconnected through 5=closed)",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_pending_requests",
			Help: "Number of in-flight requests",
		}),
		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of failed authentication handshakes",
		}),

		CircuitOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_open_total",
				Help: "Calls short-circuited by an open circuit",
			},
			[]string{"target"},
		),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limit_waits_total",
			Help: "Calls that waited on the rate limiter",
		}),

		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dedup_hits_total",
			Help: "Duplicate submissions suppressed",
		}),
		SemanticHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_semantic_cache_hits_total",
			Help: "Semantic cache hits",
		}),
		SemanticMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_semantic_cache_misses_total",
			Help: "Semantic cache misses",
		}),
		EventsDispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_dispatched_total",
			Help: "Gateway events delivered to subscribers",
		}),
	}

	registry.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.CallErrorsTotal,
		m.RetriesTotal,
		m.ReconnectsTotal,
		m.ConnectionState,
		m.PendingRequests,
		m.AuthFailuresTotal,
		m.CircuitOpenTotal,
		m.RateLimitWaits,
		m.DedupHitsTotal,
		m.SemanticHitsTotal,
		m.SemanticMissesTotal,
		m.EventsDispatchedTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
