package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/logflow/dfgflow/pkg/checkpoint"
	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/render"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

// app holds the long-lived collaborators of one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	cache    checkpoint.Backend
	orch     *pipeline.Orchestrator
	shutdown func(context.Context) error
}

// newApp wires tracing, metrics, the snapshot cache and the orchestrator.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, progress pipeline.ProgressFunc) (*app, error) {
	shutdown, err := telemetry.InitTracing(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}

	cache, err := checkpoint.Open(ctx, cfg.Cache)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if cache != nil {
		logger.Debug("snapshot cache enabled", "backend", cache.Name())
	}

	metrics := telemetry.NewMetrics()
	renderer := render.NewGraphviz(render.Options{
		Engine:  cfg.Render.Engine,
		Layout:  cfg.Render.Layout,
		Timeout: cfg.Render.Timeout,
	}, logger)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Renderer: renderer,
		Cache:    cache,
		Metrics:  metrics,
		Logger:   logger,
		Progress: progress,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		cache:    cache,
		orch:     orch,
		shutdown: shutdown,
	}, nil
}

// flushMetrics writes the textfile when one is configured.
func (a *app) flushMetrics() {
	path := a.cfg.Telemetry.MetricsTextfile
	if path == "" {
		return
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("write metrics textfile failed", "path", path, "error", err)
	}
}

func (a *app) close(ctx context.Context) {
	a.flushMetrics()
	if c, ok := a.cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("close cache failed", "error", err)
		}
	}
	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}
}
