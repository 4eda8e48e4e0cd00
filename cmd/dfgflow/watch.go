package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/storage"
	"github.com/logflow/dfgflow/pkg/tui"
	"github.com/logflow/dfgflow/pkg/watch"
)

var (
	watchFlags    runFlags
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run discovery whenever the event log changes",
	Long: `Run discover once, then again every time the input file is written.
Failed runs are reported and the previous output is kept.

Examples:
  dfgflow watch -i log.csv -o dfg.svg
  dfgflow watch -i log.csv -o dfg.svg --debounce 2s`,
	RunE: runWatch,
}

func init() {
	watchFlags.register(watchCmd, true)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before a change triggers a run")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	watchFlags.apply(cmd, cfg)
	opts, err := watchFlags.options(cfg)
	if err != nil {
		return err
	}
	if scheme, _, _ := storage.ParsePath(opts.Input); scheme != "file" {
		return dfgerr.InvalidConfig("input", opts.Input, "watch needs a local file")
	}

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	rediscover := func(ctx context.Context, _ string) error {
		res, err := a.orch.Run(ctx, opts)
		if err != nil {
			return err
		}
		tui.PrintResult(stdout(cmd), res)
		a.flushMetrics()
		return nil
	}

	if err := rediscover(ctx, opts.Input); err != nil {
		logger.Error("initial discovery failed", "error", err)
	}

	w, err := watch.New(rediscover, watchDebounce, logger)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch(opts.Input); err != nil {
		return err
	}

	logger.Info("watching for changes", "input", opts.Input, "output", opts.Output)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
