package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/keyrelay/pkg/cli"
	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/routing/tiers"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration named by --config, apply KEYRELAY_* environment
overrides and defaults, and report every validation problem.

Examples:
  keyrelay validate --config keyrelay.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	chain := cfg.Routing.Tiers
	if len(chain) == 0 {
		if chain, err = tiers.ShapeTiers(cfg.Routing.Shape); err != nil {
			return cli.NewConfigError(cfgFile, err)
		}
	}

	out := cmd.OutOrStdout()
	source := cfgFile
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(out, "Configuration valid (%s)\n", source)
	fmt.Fprintf(out, "  store:   %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  policy:  %s\n", cfg.Pool.Policy)
	fmt.Fprintf(out, "  chain:   %v\n", chain)
	schedule := cfg.Health.Schedule
	if schedule == "" {
		schedule = "disabled"
	}
	fmt.Fprintf(out, "  checks:  %s\n", schedule)
	return nil
}
