package metrics

import (
	"mercator-hq/keyrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks HTTP API traffic.
//
// Metrics:
//   - keyrelay_http_requests_total{method,path,status}
//   - keyrelay_http_request_duration_seconds{method,path}
type RequestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRequestMetrics creates and registers HTTP metrics.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	sub := subsystem(cfg, "http")
	rm := &RequestMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"method", "path"},
		),
	}
	registry.MustRegister(rm.requests, rm.duration)
	return rm
}
