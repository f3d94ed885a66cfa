package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/keyrelay/pkg/cli"
	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "keyrelay",
	Short: "Keyrelay - key pool and fallback router for image generation",
	Long: `Keyrelay serves image-generation requests through an ordered chain of
upstream tiers, falling back to the next tier when one fails.

The last tier draws keys from a managed pool. Keys are health-checked on
demand or on a schedule, and keys that fail validation are disabled
automatically.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and KEYRELAY_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// loadConfig loads the configuration named by --config, applying
// environment overrides, and installs it as the process configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	config.SetConfig(cfg)
	return cfg, nil
}

// setupLogging installs the configured logger as the slog default. levelVar
// may be nil.
func setupLogging(cfg *config.Config, levelVar *slog.LevelVar) error {
	logCfg := logging.FromConfig(&cfg.Telemetry.Logging)
	if verbose {
		logCfg.Level = "debug"
	}
	logCfg.LevelVar = levelVar
	if _, err := logging.Setup(logCfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	return nil
}
