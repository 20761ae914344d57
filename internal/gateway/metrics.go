package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	Registry       *prometheus.Registry
	Requests       *prometheus.CounterVec
	Latency        *prometheus.HistogramVec
	UpstreamErrors *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	StreamedBytes  prometheus.Counter
	Transitions    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citychat",
			Name:      "http_requests_total",
			Help:      "Relay HTTP requests by route and status.",
		}, []string{"route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "citychat",
			Name:      "http_request_duration_seconds",
			Help:      "Relay HTTP request duration, including streaming.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"route"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citychat",
			Name:      "upstream_errors_total",
			Help:      "Failed calls to upstream services.",
		}, []string{"service"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citychat",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"scope"}),
		StreamedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "citychat",
			Name:      "relay_streamed_bytes_total",
			Help:      "Bytes passed through from the chat upstream.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citychat",
			Name:      "relay_state_transitions_total",
			Help:      "Relay state machine transitions by target state.",
		}, []string{"state"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.Latency,
		m.UpstreamErrors,
		m.RateLimited,
		m.StreamedBytes,
		m.Transitions,
	)
	return m
}
