package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/keyrelay/pkg/cli"
	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/telemetry/logging"
)

var checkFlags struct {
	all    bool
	output string
	quiet  bool
}

var checkCmd = &cobra.Command{
	Use:   "check [id]",
	Short: "Health-check pooled keys",
	Long: `Probe keys against the primary provider and persist the verdicts.

A key that proves invalid or out of quota is disabled; a valid key with
quota is re-enabled. Probe failures that say nothing about the key leave it
unchanged.

Examples:
  # Check one key
  keyrelay check 6f1c...

  # Check every key, paced by health.pacing
  keyrelay check --all --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkFlags.all, "all", false, "check every key")
	checkCmd.Flags().StringVarP(&checkFlags.output, "output", "o", "text", "output format: text, json, csv")
	checkCmd.Flags().BoolVarP(&checkFlags.quiet, "quiet", "q", false, "no progress bar")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFlags.all == (len(args) == 1) {
		return fmt.Errorf("give either a key id or --all")
	}
	formatter, err := cli.NewFormatter(cli.OutputFormat(checkFlags.output))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, nil); err != nil {
		return err
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	defer a.Close(context.Background())

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	out := cmd.OutOrStdout()
	if !checkFlags.all {
		verdict, rec, err := a.checker.Check(logging.WithKeyID(ctx, args[0]), args[0])
		if err != nil {
			return cli.NewCommandError("check", err)
		}
		return formatter.FormatTo(out, cli.ReportTable(health.BatchReport{
			Total: 1,
			Details: []health.BatchDetail{{
				ID:       rec.ID,
				Name:     rec.Name,
				Success:  true,
				IsValid:  verdict.IsValid,
				HasQuota: verdict.HasQuota,
				Code:     verdict.Code,
				Message:  verdict.Message,
			}},
		}))
	}

	var progress cli.ProgressReporter
	if !checkFlags.quiet && checkFlags.output == string(cli.FormatText) {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr())
	}
	report, err := a.batch.RunWithProgress(ctx, func(done, total int, _ health.BatchDetail) {
		if progress == nil {
			return
		}
		if done == 1 {
			progress.Start(int64(total))
		}
		progress.Update(int64(done))
	})
	if err != nil {
		if progress != nil {
			progress.Error(err)
		}
		return cli.NewCommandError("check", err)
	}
	if progress != nil && report.Total > 0 {
		progress.Finish()
	}

	table := cli.ReportTable(report)
	if err := formatter.FormatTo(out, table); err != nil {
		return err
	}
	if checkFlags.output == string(cli.FormatText) {
		fmt.Fprintln(out, table.Summary())
	}
	return nil
}
