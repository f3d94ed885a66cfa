package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/pool"
	"mercator-hq/keyrelay/pkg/routing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ pool.SelectionObserver = (*Collector)(nil)
	_ health.Observer        = (*Collector)(nil)
	_ routing.Observer       = (*Collector)(nil)
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                true,
		Namespace:              "test",
		RequestDurationBuckets: []float64{0.1, 1, 10},
		ProbeDurationBuckets:   []float64{0.1, 1, 10},
	}
}

func TestNewCollector_Defaults(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	c := NewCollector(cfg, nil)

	if c.Registry() == nil {
		t.Fatal("Registry() = nil")
	}
	if cfg.Namespace != "keyrelay" {
		t.Errorf("Namespace = %q, want keyrelay", cfg.Namespace)
	}
	if len(cfg.RequestDurationBuckets) == 0 || len(cfg.ProbeDurationBuckets) == 0 {
		t.Error("default buckets not applied")
	}
}

func TestCollector_ObserveSelection(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.ObserveSelection("round-robin", true)
	c.ObserveSelection("round-robin", true)
	c.ObserveSelection("round-robin", false)

	if got := testutil.ToFloat64(c.pool.selections.WithLabelValues("round-robin", "success")); got != 2 {
		t.Errorf("success selections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.pool.selections.WithLabelValues("round-robin", "failure")); got != 1 {
		t.Errorf("failed selections = %v, want 1", got)
	}
}

func TestCollector_SetKeyCounts(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())
	c.SetKeyCounts(5, 3)

	if got := testutil.ToFloat64(c.pool.keys.WithLabelValues("enabled")); got != 3 {
		t.Errorf("enabled = %v", got)
	}
	if got := testutil.ToFloat64(c.pool.keys.WithLabelValues("disabled")); got != 2 {
		t.Errorf("disabled = %v", got)
	}
}

func TestCollector_HealthObservations(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.ObserveVerdict(string(health.CodeKeyValid), 200*time.Millisecond)
	c.ObserveVerdict(string(health.CodeQuotaExceeded), 300*time.Millisecond)
	c.ObserveVerdict(string(health.CodeKeyValid), 100*time.Millisecond)
	c.ObserveBatch(3, 2, 1, 2*time.Second)

	if got := testutil.ToFloat64(c.health.verdicts.WithLabelValues(string(health.CodeKeyValid))); got != 2 {
		t.Errorf("KEY_VALID verdicts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.health.batchRuns); got != 1 {
		t.Errorf("batch runs = %v", got)
	}
	for result, want := range map[string]float64{"total": 3, "valid": 2, "invalid": 1} {
		if got := testutil.ToFloat64(c.health.lastBatch.WithLabelValues(result)); got != want {
			t.Errorf("last batch %s = %v, want %v", result, got, want)
		}
	}
	if testutil.ToFloat64(c.health.lastBatchTime) == 0 {
		t.Error("last batch timestamp not set")
	}
}

func TestCollector_RoutingObservations(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.ObserveTier(routing.TierHosted, routing.ReasonTimeout, false, time.Second)
	c.ObserveTier(routing.TierPooled, "", true, time.Second)
	c.ObserveRoute(true, true, false)
	c.ObserveRoute(false, true, true)

	if got := testutil.ToFloat64(c.routing.tierAttempts.WithLabelValues(routing.TierHosted, "failure", routing.ReasonTimeout)); got != 1 {
		t.Errorf("hosted timeouts = %v", got)
	}
	if got := testutil.ToFloat64(c.routing.tierAttempts.WithLabelValues(routing.TierPooled, "success", "none")); got != 1 {
		t.Errorf("pooled wins = %v", got)
	}
	if got := testutil.ToFloat64(c.routing.routes.WithLabelValues("success", "true")); got != 1 {
		t.Errorf("fallback successes = %v", got)
	}
	if got := testutil.ToFloat64(c.routing.quotaExhausted); got != 1 {
		t.Errorf("quota exhausted = %v", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, prometheus.NewRegistry())

	c.ObserveSelection("random", true)
	c.ObserveRoute(true, false, false)
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	if got := testutil.ToFloat64(c.pool.selections.WithLabelValues("random", "success")); got != 0 {
		t.Errorf("selections recorded while disabled: %v", got)
	}
	if got := testutil.CollectAndCount(c.routing.routes); got != 0 {
		t.Errorf("routes series = %d, want 0", got)
	}
}

func TestCollector_RecordHTTPRequestCardinality(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())
	c.cardinalityLimiter = NewCardinalityLimiter(1)

	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/keys", 200, time.Millisecond)

	if got := testutil.ToFloat64(c.http.requests.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("/health = %v", got)
	}
	if got := testutil.ToFloat64(c.http.requests.WithLabelValues("GET", "other", "200")); got != 1 {
		t.Errorf("other = %v, want overflow folded into other", got)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") || !cl.Allow("a") {
		t.Fatal("expected first two label sets to be allowed")
	}
	if cl.Allow("c") {
		t.Error("third label set allowed past the limit")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d", cl.Count())
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())
	c.ObserveSelection("sequential", true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_pool_selections_total") {
		t.Errorf("scrape output missing selections metric:\n%s", rec.Body.String())
	}
}
