package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for the gateway.
// Each instance carries its own registry so gateways can be created and
// discarded freely in tests.
type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	embeddingChunks  prometheus.Counter
	relayLines       prometheus.Counter
	relayDisconnects prometheus.Counter
}

// NewMetrics creates and registers the gateway metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ollama_proxy_requests_total",
				Help: "Total number of requests handled, by route and status code",
			},
			[]string{"route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ollama_proxy_request_duration_seconds",
				Help:    "Request handling duration in seconds, by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		embeddingChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ollama_proxy_embedding_chunks_total",
				Help: "Total number of embedding chunks sent to the backend",
			},
		),
		relayLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ollama_proxy_relay_lines_total",
				Help: "Total number of streamed records relayed to clients",
			},
		),
		relayDisconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ollama_proxy_relay_client_disconnects_total",
				Help: "Streaming relays aborted because the client went away",
			},
		),
	}
}

// Registry exposes the collector registry for serving.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordRequest records one handled request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordEmbeddingChunks adds to the chunk counter.
func (m *Metrics) RecordEmbeddingChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embeddingChunks.Add(float64(n))
}

// RecordRelayLines adds to the relayed record counter.
func (m *Metrics) RecordRelayLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relayLines.Add(float64(n))
}

// RecordRelayDisconnect counts a client gone mid-stream.
func (m *Metrics) RecordRelayDisconnect() {
	if m == nil {
		return
	}
	m.relayDisconnects.Inc()
}
