package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/tui"
)

var (
	infoFlags runFlags
	infoTop   int
	infoJSON  bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarize an event log without rendering",
	Long: `Index and summarize an event log and print its activities and most
frequent directly-follows pairs.

Examples:
  dfgflow info -i log.csv
  dfgflow info -i log.xlsx --sheet events --top 50
  dfgflow info -i log.csv --json`,
	RunE: runInfo,
}

func init() {
	infoFlags.register(infoCmd, false)
	infoCmd.Flags().IntVar(&infoTop, "top", 20, "Number of edges listed (0 = all)")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print the run result and summary as JSON")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	infoFlags.apply(cmd, cfg)
	opts, err := infoFlags.options(cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.orch.Info(ctx, opts)
	if err != nil {
		return err
	}

	if infoJSON {
		enc := json.NewEncoder(stdout(cmd))
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Result  any `json:"result"`
			Summary any `json:"summary"`
		}{res, res.Summary})
	}
	tui.PrintInfo(stdout(cmd), res, infoTop)
	return nil
}
