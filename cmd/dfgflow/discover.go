package main

import (
	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/tui"
)

var (
	discoverFlags runFlags
	discoverQuiet bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the directly-follows graph of an event log",
	Long: `Read an event log, build the directly-follows graph and render it.

The output format follows --format, then the output extension, then svg.
The json format writes the summarized graph without running Graphviz.

Examples:
  dfgflow discover -i log.csv -o dfg.svg
  dfgflow discover -i log.parquet -o dfg.png --max-edges 50
  dfgflow discover -i s3://bucket/log.csv -o s3://bucket/dfg.svg
  dfgflow discover -i postgres://user@host/db --query events -o dfg.pdf
  dfgflow discover -i log.csv --format json --weighting frequency`,
	RunE: runDiscover,
}

func init() {
	discoverFlags.register(discoverCmd, true)
	discoverCmd.Flags().BoolVarP(&discoverQuiet, "quiet", "q", false, "Suppress the progress bar and summary")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	discoverFlags.apply(cmd, cfg)
	opts, err := discoverFlags.options(cfg)
	if err != nil {
		return err
	}

	var progress *tui.StageProgress
	var progressFn pipeline.ProgressFunc
	if !discoverQuiet && !verbose {
		progress = tui.NewStageProgress(cmd.ErrOrStderr())
		progressFn = progress.Func()
	}

	a, err := newApp(ctx, cfg, logger, progressFn)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.orch.Run(ctx, opts)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}
	if !discoverQuiet {
		tui.PrintResult(stdout(cmd), res)
	}
	return nil
}
