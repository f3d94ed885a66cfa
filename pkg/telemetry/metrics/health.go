package metrics

import (
	"mercator-hq/keyrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthMetrics tracks key probes and batch checks.
//
// Metrics:
//   - keyrelay_health_verdicts_total{code}
//   - keyrelay_health_probe_duration_seconds{code}
//   - keyrelay_health_batch_runs_total
//   - keyrelay_health_batch_duration_seconds
//   - keyrelay_health_last_batch_keys{result}
//   - keyrelay_health_last_batch_timestamp_seconds
type HealthMetrics struct {
	verdicts      *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	batchRuns     prometheus.Counter
	batchDuration prometheus.Histogram
	lastBatch     *prometheus.GaugeVec
	lastBatchTime prometheus.Gauge
}

// NewHealthMetrics creates and registers health metrics.
func NewHealthMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HealthMetrics {
	sub := subsystem(cfg, "health")
	hm := &HealthMetrics{
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "verdicts_total",
				Help:      "Key probe verdicts by code",
			},
			[]string{"code"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "probe_duration_seconds",
				Help:      "Duration of key probes in seconds",
				Buckets:   cfg.ProbeDurationBuckets,
			},
			[]string{"code"},
		),
		batchRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: sub,
			Name:      "batch_runs_total",
			Help:      "Completed batch checks",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: sub,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch checks in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		lastBatch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: sub,
				Name:      "last_batch_keys",
				Help:      "Key counts from the most recent batch check",
			},
			[]string{"result"},
		),
		lastBatchTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: sub,
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time the most recent batch check finished",
		}),
	}
	registry.MustRegister(hm.verdicts, hm.probeDuration, hm.batchRuns, hm.batchDuration, hm.lastBatch, hm.lastBatchTime)
	return hm
}
