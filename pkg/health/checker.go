package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/providers"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 30 * time.Second

// Prober issues the upstream "list models" call with a key. Transport
// failures are errors; any HTTP status is a response.
type Prober interface {
	Probe(ctx context.Context, key string) (*providers.Response, error)
}

// Observer receives health-check events. It is satisfied by the metrics
// collector.
type Observer interface {
	ObserveVerdict(code string, duration time.Duration)
	ObserveBatch(total, valid, invalid int, duration time.Duration)
}

// CheckerConfig configures a Checker.
type CheckerConfig struct {
	// Timeout bounds each probe. Default: 30s.
	Timeout time.Duration

	// Classifier maps probe outcomes to verdicts. Default: NewRuleClassifier(nil, nil).
	Classifier Classifier

	// Observer, if set, is told about every verdict.
	Observer Observer
}

// Checker runs single-key health checks.
type Checker struct {
	prober     Prober
	store      keys.Store
	classifier Classifier
	timeout    time.Duration
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// NewChecker creates a checker. store may be nil when only Validate is used.
func NewChecker(prober Prober, store keys.Store, config CheckerConfig) *Checker {
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeTimeout
	}
	if config.Classifier == nil {
		config.Classifier = NewRuleClassifier(nil, nil)
	}
	return &Checker{
		prober:     prober,
		store:      store,
		classifier: config.Classifier,
		timeout:    config.Timeout,
		observer:   config.Observer,
		logger:     slog.Default().With("component", "health.checker"),
		now:        time.Now,
	}
}

// Validate probes secret and classifies the outcome without touching the
// store. It never fails: a probe that cannot complete yields CHECK_ERROR.
func (c *Checker) Validate(ctx context.Context, secret string) Verdict {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.prober.Probe(probeCtx, secret)
	verdict := c.classifier.Classify(Observation{Response: resp, Err: err, At: c.now()})

	if c.observer != nil {
		c.observer.ObserveVerdict(string(verdict.Code), time.Since(start))
	}
	c.logger.Debug("key probed",
		"key", keys.MaskSecret(secret),
		"code", verdict.Code,
		"status", verdict.StatusCode,
		"duration", time.Since(start),
	)
	return verdict
}

// Check probes the stored key id and persists the verdict. Quota status and
// check metadata are always written; Enabled is only changed when the probe
// ran (code other than CHECK_ERROR).
//
// Errors are returned only for store failures, including keys.ErrNotFound.
func (c *Checker) Check(ctx context.Context, id string) (Verdict, keys.KeyRecord, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return Verdict{}, keys.KeyRecord{}, err
	}
	return c.checkRecord(ctx, rec)
}

func (c *Checker) checkRecord(ctx context.Context, rec keys.KeyRecord) (Verdict, keys.KeyRecord, error) {
	verdict := c.Validate(ctx, rec.Secret)

	updated, err := c.store.Update(ctx, rec.ID, verdict.Patch())
	if err != nil {
		return verdict, rec, fmt.Errorf("failed to persist verdict for key %s: %w", rec.ID, err)
	}

	if !verdict.IsCheckError() && updated.Enabled != rec.Enabled {
		c.logger.Info("key enablement changed by health check",
			"key_id", rec.ID,
			"name", rec.Name,
			"enabled", updated.Enabled,
			"code", verdict.Code,
		)
	}
	return verdict, updated, nil
}
