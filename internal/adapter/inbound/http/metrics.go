package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for fluxgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RateLimitDecisions *prometheus.CounterVec
	IdempotencyEvents  *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	StoreKeys          prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fluxgate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fluxgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		RateLimitDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fluxgate",
				Name:      "ratelimit_decisions_total",
				Help:      "Rate limit admission decisions",
			},
			[]string{"policy", "outcome"}, // outcome=allowed/denied/bypassed/failed_open
		),
		IdempotencyEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fluxgate",
				Name:      "idempotency_events_total",
				Help:      "Idempotency guard events",
			},
			[]string{"event"}, // event=miss/replay/conflict/stored
		),
		StoreErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fluxgate",
				Name:      "store_errors_total",
				Help:      "Key/value store failures by operation",
			},
			[]string{"op"}, // op=get/set
		),
		StoreKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fluxgate",
				Name:      "store_keys",
				Help:      "Number of keys held by the in-memory store",
			},
		),
	}
}
