package metrics

import (
	"mercator-hq/keyrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics tracks key selection and pool size.
//
// Metrics:
//   - keyrelay_pool_selections_total{policy,outcome}
//   - keyrelay_pool_keys{state}
type PoolMetrics struct {
	selections *prometheus.CounterVec
	keys       *prometheus.GaugeVec
}

// NewPoolMetrics creates and registers pool metrics.
func NewPoolMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PoolMetrics {
	pm := &PoolMetrics{
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem(cfg, "pool"),
				Name:      "selections_total",
				Help:      "Key selections by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		keys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: subsystem(cfg, "pool"),
				Name:      "keys",
				Help:      "Pool keys by enabled state",
			},
			[]string{"state"},
		),
	}
	registry.MustRegister(pm.selections, pm.keys)
	return pm
}

// subsystem prefixes the configured subsystem, if any, onto a metric group.
func subsystem(cfg *config.MetricsConfig, group string) string {
	if cfg.Subsystem == "" {
		return group
	}
	return cfg.Subsystem + "_" + group
}
