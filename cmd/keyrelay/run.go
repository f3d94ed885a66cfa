package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/keyrelay/pkg/cli"
	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/server"
	"mercator-hq/keyrelay/pkg/telemetry/readiness"
)

// keyGaugeInterval is how often the pool size gauges are refreshed.
const keyGaugeInterval = 15 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the keyrelay HTTP server",
	Long: `Start the keyrelay HTTP server with the specified configuration.

The server routes generation requests through the configured tier chain,
exposes the key management API, and runs scheduled health checks when a
schedule is configured.

Examples:
  # Start with defaults
  keyrelay run

  # Start with a config file and reload it on change
  keyrelay run --config /etc/keyrelay/keyrelay.yaml --watch

  # Override listen address
  keyrelay run --listen 0.0.0.0:8080

  # Validate config and wiring without starting the server
  keyrelay run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component, then exit")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload the config file when it changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	levelVar := new(slog.LevelVar)
	if err := setupLogging(cfg, levelVar); err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Warn("error releasing components", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintf(out, "Configuration valid; chain: %v, policy: %s\n", a.router.TierNames(), a.selector.Policy())
		return nil
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	var scheduler *health.Scheduler
	if cfg.Health.Schedule != "" {
		scheduler = health.NewScheduler(a.batch, cfg.Health.Schedule)
		if err := scheduler.Start(ctx); err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to start health check scheduler: %w", err))
		}
		defer scheduler.Stop()
	}

	ready := readiness.New(0)
	ready.Register("store", readiness.StoreCheck(a.store))
	ready.Register("pool", readiness.PoolCheck(a.store))

	deps := server.Deps{
		Router:      a.router,
		Store:       a.store,
		Checker:     a.checker,
		Batch:       a.batch,
		Pool:        a.selector,
		Readiness:   ready,
		Tracer:      a.tracer,
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Build:       server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
	}
	if scheduler != nil {
		deps.Scheduler = scheduler
	}
	if cfg.Telemetry.Metrics.Enabled {
		deps.Metrics = a.metrics
	}

	go refreshKeyGauges(ctx, a)

	if runFlags.watch && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, 0)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		go func() {
			err := watcher.Watch(ctx, func(newCfg *config.Config) {
				a.applyReload(newCfg, levelVar)
				slog.Info("configuration reloaded",
					"policy", newCfg.Pool.Policy,
					"log_level", newCfg.Telemetry.Logging.Level,
				)
			})
			if err != nil {
				slog.Error("configuration watcher failed", "error", err)
			}
		}()
	}

	srv := server.NewServer(&cfg.Server, deps)

	fmt.Fprintf(out, "Keyrelay %s\n", Version)
	fmt.Fprintf(out, "Listening on %s (chain: %v, policy: %s)\n", cfg.Server.ListenAddress, a.router.TierNames(), a.selector.Policy())
	if deps.Metrics != nil {
		fmt.Fprintf(out, "Metrics at http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "Server stopped")
	return nil
}

func refreshKeyGauges(ctx context.Context, a *app) {
	ticker := time.NewTicker(keyGaugeInterval)
	defer ticker.Stop()

	a.refreshKeyGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshKeyGauges(ctx)
		}
	}
}
