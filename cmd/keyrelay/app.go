package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/pool"
	"mercator-hq/keyrelay/pkg/providers/gemini"
	"mercator-hq/keyrelay/pkg/providers/hosted"
	"mercator-hq/keyrelay/pkg/routing"
	"mercator-hq/keyrelay/pkg/routing/tiers"
	"mercator-hq/keyrelay/pkg/telemetry/logging"
	"mercator-hq/keyrelay/pkg/telemetry/metrics"
	"mercator-hq/keyrelay/pkg/telemetry/tracing"
)

// app holds the wired components shared by run, check and generate.
type app struct {
	cfg      *config.Config
	store    keys.Store
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	primary  *gemini.Client
	hosted   *hosted.Client
	selector *pool.Selector
	checker  *health.Checker
	batch    *health.BatchChecker
	cache    *routing.VerdictCache
	router   *routing.Router
}

// openStore opens the configured key store.
func openStore(cfg *config.StoreConfig) (keys.Store, error) {
	switch cfg.Backend {
	case "memory":
		return keys.NewMemoryStore(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		return keys.NewSQLiteStore(keys.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
			WALMode:     cfg.SQLite.WALMode,
		})
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// newApp wires every component from cfg. The router is only built when
// withRouter is set, so key maintenance commands do not require a hosted
// endpoint to be configured.
func newApp(cfg *config.Config, withRouter bool) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())

	tracingCfg := cfg.Telemetry.Tracing
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = Version
	}
	if a.tracer, err = tracing.New(&tracingCfg); err != nil {
		return a, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if a.store, err = openStore(&cfg.Store); err != nil {
		return a, fmt.Errorf("failed to open key store: %w", err)
	}

	policy, err := pool.NewPolicy(cfg.Pool.Policy)
	if err != nil {
		return a, err
	}
	a.selector = pool.NewSelector(a.store, policy).WithObserver(a.metrics)

	primaryCfg := cfg.Providers.Primary
	if a.primary, err = gemini.New(gemini.Config{
		BaseURL:    primaryCfg.BaseURL,
		Model:      primaryCfg.Model,
		DefaultKey: primaryCfg.DefaultKey,
		ProxyURL:   primaryCfg.ProxyURL,
		Timeout:    primaryCfg.Timeout,
		MaxRetries: primaryCfg.MaxRetries,
	}); err != nil {
		return a, fmt.Errorf("failed to create primary provider: %w", err)
	}

	a.checker = health.NewChecker(tracing.TraceProber(a.tracer, a.primary), a.store, health.CheckerConfig{
		Timeout:    cfg.Health.ProbeTimeout,
		Classifier: health.NewRuleClassifier(cfg.Health.QuotaIndicators, cfg.Health.InvalidIndicators),
		Observer:   a.metrics,
	})
	a.batch = health.NewBatchChecker(a.checker, cfg.Health.Pacing)

	if !withRouter {
		return a, nil
	}

	deps := tiers.Deps{
		Primary:   a.primary,
		Selector:  a.selector,
		Validator: a.checker,
	}
	if hostedCfg := cfg.Providers.Hosted; hostedCfg.URL != "" {
		if a.hosted, err = hosted.New(hosted.Config{
			URL:      hostedCfg.URL,
			Timeout:  hostedCfg.Timeout,
			ProxyURL: hostedCfg.ProxyURL,
			Headers:  hostedCfg.Headers,
		}); err != nil {
			return a, fmt.Errorf("failed to create hosted provider: %w", err)
		}
		deps.Hosted = a.hosted
	}
	a.cache = routing.NewVerdictCache(cfg.Routing.ValidationCacheTTL, cfg.Routing.ValidationCacheSize)
	deps.Cache = a.cache

	var chain []routing.Tier
	if len(cfg.Routing.Tiers) > 0 {
		chain, err = tiers.Build(cfg.Routing.Tiers, deps)
	} else {
		chain, err = tiers.BuildShape(cfg.Routing.Shape, deps)
	}
	if err != nil {
		return a, fmt.Errorf("failed to build routing chain: %w", err)
	}

	router, err := routing.NewRouter(tracing.TraceTiers(a.tracer, chain)...)
	if err != nil {
		return a, err
	}
	a.router = router.WithObserver(a.metrics)

	slog.Debug("routing chain built", "tiers", a.router.TierNames(), "policy", a.selector.Policy())
	return a, nil
}

// refreshKeyGauges publishes the pool size.
func (a *app) refreshKeyGauges(ctx context.Context) {
	records, err := a.store.List(ctx)
	if err != nil {
		slog.Warn("failed to list keys for metrics", "error", err)
		return
	}
	enabled := 0
	for _, rec := range records {
		if rec.Enabled {
			enabled++
		}
	}
	a.metrics.SetKeyCounts(len(records), enabled)
}

// applyReload applies the settings that can change without a restart:
// rotation policy and log level.
func (a *app) applyReload(cfg *config.Config, levelVar *slog.LevelVar) {
	if cfg.Pool.Policy != a.selector.Policy() {
		if policy, err := pool.NewPolicy(cfg.Pool.Policy); err != nil {
			slog.Warn("ignoring invalid rotation policy from reload", "policy", cfg.Pool.Policy, "error", err)
		} else {
			a.selector.SetPolicy(policy)
		}
	}
	if levelVar != nil && !verbose {
		if err := logging.SetLevel(levelVar, cfg.Telemetry.Logging.Level); err != nil {
			slog.Warn("ignoring invalid log level from reload", "error", err)
		}
	}
	a.cfg = cfg
}

// Close releases every component. Safe on a partially built app.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.cache != nil {
		a.cache.Close()
	}
	if a.primary != nil {
		errs = append(errs, a.primary.Close())
	}
	if a.hosted != nil {
		errs = append(errs, a.hosted.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
