package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve discovery over HTTP",
	Long: `Start an HTTP server exposing discovery.

Endpoints:
  GET  /healthz        liveness probe
  GET  /metrics        Prometheus metrics
  POST /v1/dfg         upload an event log, receive the graph
  GET  /v1/runs        recent runs
  GET  /v1/runs/{id}   one run

Examples:
  dfgflow serve --port 8080
  curl --data-binary @log.csv 'localhost:8080/v1/dfg?format=svg' > dfg.svg`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	srv, err := server.FromConfig(cfg, a.orch, a.metrics, logger, version)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	fmt.Fprintf(stdout(cmd), "  dfgflow %s listening on http://%s\n", version, addr)
	return srv.ListenAndServe(ctx, addr)
}
