// Package telemetry provides observability primitives for rolecast.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rolecast"

// Metrics holds all Prometheus collectors for the service.
// Components that take a *Metrics skip recording when it is nil.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	KeyAcquisitions  *prometheus.CounterVec
	KeyQuarantines   prometheus.Counter
	TokensProcessed  *prometheus.CounterVec
	EmbedCacheHits   prometheus.Counter
	EmbedCacheMisses prometheus.Counter
	RateLimitRejects prometheus.Counter
	ChatsInFlight    prometheus.Gauge
	AuditQueueLength prometheus.Gauge
}

func nativeHistogram(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:                       namespace,
		Name:                            name,
		Help:                            help,
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: 0,
	}
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(
			nativeHistogram("request_duration_seconds", "HTTP request duration in seconds."),
			[]string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(
			nativeHistogram("upstream_duration_seconds", "Chat completion stream duration in seconds."),
			[]string{"model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total failed chat completion calls.",
		}, []string{"status"}),

		KeyAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_acquisitions_total",
			Help:      "API key acquisitions by result.",
		}, []string{"result"}),

		KeyQuarantines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_quarantines_total",
			Help:      "API keys quarantined after an authorization failure.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		EmbedCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Query embedding cache hits.",
		}),

		EmbedCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Query embedding cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejects_total",
			Help:      "Chat requests rejected by the per-caller rate limit.",
		}),

		ChatsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chats_in_flight",
			Help:      "Chat and extraction operations holding an admission slot.",
		}),

		AuditQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_length",
			Help:      "Current number of queued audit records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.KeyAcquisitions,
		m.KeyQuarantines,
		m.TokensProcessed,
		m.EmbedCacheHits,
		m.EmbedCacheMisses,
		m.RateLimitRejects,
		m.ChatsInFlight,
		m.AuditQueueLength,
	)

	return m
}
