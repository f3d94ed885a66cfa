package metrics

import (
	"strconv"
	"sync"
	"time"

	"mercator-hq/keyrelay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every keyrelay metric and the registry they live in.
//
// It satisfies the observer interfaces of the pool, health and routing
// packages so those packages never import Prometheus themselves:
//
//	selector.WithObserver(collector)
//	health.NewChecker(prober, store, health.CheckerConfig{Observer: collector})
//	router.WithObserver(collector)
//
// All methods are no-ops when metrics are disabled.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	pool    *PoolMetrics
	health  *HealthMetrics
	routing *RoutingMetrics
	http    *RequestMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics. A nil
// registry gets a fresh one.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true}
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "keyrelay"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		// Image generation is slow; the tail reaches the 30s probe timeout.
		cfg.RequestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	}
	if len(cfg.ProbeDurationBuckets) == 0 {
		cfg.ProbeDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		pool:               NewPoolMetrics(cfg, registry),
		health:             NewHealthMetrics(cfg, registry),
		routing:            NewRoutingMetrics(cfg, registry),
		http:               NewRequestMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(10000),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveSelection records a pool selection. Implements
// pool.SelectionObserver.
func (c *Collector) ObserveSelection(policy string, ok bool) {
	if !c.config.Enabled {
		return
	}
	c.pool.selections.WithLabelValues(policy, outcome(ok)).Inc()
}

// SetKeyCounts publishes the pool size.
func (c *Collector) SetKeyCounts(total, enabled int) {
	if !c.config.Enabled {
		return
	}
	c.pool.keys.WithLabelValues("enabled").Set(float64(enabled))
	c.pool.keys.WithLabelValues("disabled").Set(float64(total - enabled))
}

// ObserveVerdict records one probe. Implements health.Observer.
func (c *Collector) ObserveVerdict(code string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.health.verdicts.WithLabelValues(code).Inc()
	c.health.probeDuration.WithLabelValues(code).Observe(duration.Seconds())
}

// ObserveBatch records a completed batch check. Implements health.Observer.
func (c *Collector) ObserveBatch(total, valid, invalid int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.health.batchRuns.Inc()
	c.health.batchDuration.Observe(duration.Seconds())
	c.health.lastBatch.WithLabelValues("total").Set(float64(total))
	c.health.lastBatch.WithLabelValues("valid").Set(float64(valid))
	c.health.lastBatch.WithLabelValues("invalid").Set(float64(invalid))
	c.health.lastBatchTime.SetToCurrentTime()
}

// ObserveTier records one tier attempt. Implements routing.Observer.
func (c *Collector) ObserveTier(tier, reason string, success bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	if success {
		reason = "none"
	}
	c.routing.tierAttempts.WithLabelValues(tier, outcome(success), reason).Inc()
	c.routing.tierDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// ObserveRoute records the outcome of one routed request. Implements
// routing.Observer.
func (c *Collector) ObserveRoute(success, usedFallback, quotaExhausted bool) {
	if !c.config.Enabled {
		return
	}
	c.routing.routes.WithLabelValues(outcome(success), strconv.FormatBool(usedFallback)).Inc()
	if quotaExhausted {
		c.routing.quotaExhausted.Inc()
	}
}

// RecordHTTPRequest records an API request. Paths beyond the cardinality
// limit are folded into "other".
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	if !c.cardinalityLimiter.Allow(method + " " + path) {
		path = "other"
	}
	c.http.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.http.duration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// CardinalityLimiter caps the number of distinct label sets a metric may
// grow to.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing up to maxCardinality
// label sets.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is known or still fits under the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	_, exists := cl.current[labelSet]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the number of label sets seen.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
