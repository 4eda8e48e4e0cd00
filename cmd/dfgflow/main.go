// dfgflow discovers directly-follows graphs from event logs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/pkg/config"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	verbose    bool
)

// Populated by the root pre-run.
var (
	cfgManager = config.NewManager()
	cfg        *config.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dfgflow",
	Short: "Discover directly-follows graphs from event logs",
	Long: `dfgflow reads an event log (CSV, TSV, Parquet, XLSX, DuckDB or PostgreSQL),
groups events into traces, and renders the directly-follows graph with
median transition latencies through Graphviz.

Examples:
  dfgflow discover -i log.csv -o dfg.svg
  dfgflow info -i log.csv
  dfgflow watch -i log.csv -o dfg.svg
  dfgflow serve --port 8080`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.dfgflow/config.yaml, ./.dfgflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// loadConfig merges files, environment and global flags, then builds the
// logger every command uses.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := cfgManager.Load(configFile); err != nil {
		return err
	}
	cfg = cfgManager.Get()

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if verbose && logLevel == "" {
		cfg.Log.Level = "debug"
	}
	logger = logging.NewWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Debug("configuration loaded", "paths", cfgManager.GetPaths())
	return nil
}

// exitCode distinguishes caller mistakes from runtime failures.
func exitCode(err error) int {
	switch {
	case dfgerr.IsConfig(err), dfgerr.IsCode(err, dfgerr.CodeFileNotFound):
		return 2
	case dfgerr.IsCode(err, dfgerr.CodeContextCanceled):
		return 130
	default:
		return 1
	}
}

// stdout is where human-readable reports go.
func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
