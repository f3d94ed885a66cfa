/*
Package cli provides helpers shared by the keyrelay commands.

Output Formatting:

Commands print results as text tables, JSON or CSV:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, cli.KeyTable(records))

Progress Reporting:

Batch health checks report per-key progress:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(total))
	progress.Update(int64(done))
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
