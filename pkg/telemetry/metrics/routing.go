package metrics

import (
	"mercator-hq/keyrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingMetrics tracks the fallback chain.
//
// Metrics:
//   - keyrelay_routing_tier_attempts_total{tier,outcome,reason}
//   - keyrelay_routing_tier_duration_seconds{tier}
//   - keyrelay_routing_requests_total{outcome,fallback}
//   - keyrelay_routing_quota_exhausted_total
type RoutingMetrics struct {
	tierAttempts   *prometheus.CounterVec
	tierDuration   *prometheus.HistogramVec
	routes         *prometheus.CounterVec
	quotaExhausted prometheus.Counter
}

// NewRoutingMetrics creates and registers routing metrics.
func NewRoutingMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RoutingMetrics {
	sub := subsystem(cfg, "routing")
	rm := &RoutingMetrics{
		tierAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "tier_attempts_total",
				Help:      "Tier attempts by outcome and failure reason",
			},
			[]string{"tier", "outcome", "reason"},
		),
		tierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "tier_duration_seconds",
				Help:      "Duration of tier attempts in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"tier"},
		),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "requests_total",
				Help:      "Routed generation requests by outcome",
			},
			[]string{"outcome", "fallback"},
		),
		quotaExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: sub,
			Name:      "quota_exhausted_total",
			Help:      "Requests that failed with quota exhausted at the final tier",
		}),
	}
	registry.MustRegister(rm.tierAttempts, rm.tierDuration, rm.routes, rm.quotaExhausted)
	return rm
}
