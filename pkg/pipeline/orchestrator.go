// Package pipeline runs discovery end to end: fetch the input, load it as
// a dataset, index traces, aggregate and summarize the directly-follows
// relation, encode the graph and write the artifact.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/dfgflow/internal/logging"
	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/pool"
	"github.com/logflow/dfgflow/pkg/checkpoint"
	"github.com/logflow/dfgflow/pkg/dataset"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/encoder"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/eventlog"
	"github.com/logflow/dfgflow/pkg/graph"
	"github.com/logflow/dfgflow/pkg/render"
	"github.com/logflow/dfgflow/pkg/storage"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

// Stage names one step of a run.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageLoad      Stage = "load"
	StageIndex     Stage = "index"
	StageAggregate Stage = "aggregate"
	StageSummarize Stage = "summarize"
	StageEncode    Stage = "encode"
	StageRender    Stage = "render"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageFetch, StageLoad, StageIndex, StageAggregate, StageSummarize, StageEncode, StageRender}

// StageTiming is the wall time of one stage.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// ProgressEvent reports a stage starting or finishing.
type ProgressEvent struct {
	Stage    Stage
	Done     bool
	Duration time.Duration
}

// ProgressFunc receives progress events. It is called from the run's
// goroutine and must not block.
type ProgressFunc func(ProgressEvent)

// Result describes a finished run.
type Result struct {
	RunID    string           `json:"run_id"`
	Source   string           `json:"source"`
	Output   string           `json:"output,omitempty"`
	Format   render.Format    `json:"format"`
	Cached   bool             `json:"cached"`
	CacheKey string           `json:"cache_key,omitempty"`
	Stats    checkpoint.Stats `json:"stats"`
	Retained int              `json:"retained_edges"`
	Timings  []StageTiming    `json:"timings"`
	Total    time.Duration    `json:"total"`

	Summary *dfg.Summary `json:"-"`
	Model   *graph.Model `json:"-"`
}

// Deps are the collaborators of an Orchestrator. Every field is optional.
type Deps struct {
	Renderer render.Renderer
	Cache    checkpoint.Backend
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Progress ProgressFunc
}

// Orchestrator runs discovery. It is safe for concurrent use when its
// Progress function is.
type Orchestrator struct {
	renderer render.Renderer
	cache    checkpoint.Backend
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	progress ProgressFunc
}

// NewOrchestrator creates an orchestrator. Without a renderer it uses the
// Graphviz "dot" binary.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := logging.OrDefault(deps.Logger)
	o := &Orchestrator{
		renderer: deps.Renderer,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   logger,
		progress: deps.Progress,
	}
	if o.renderer == nil {
		o.renderer = render.NewGraphviz(render.Options{}, logger)
	}
	return o
}

// Run discovers the graph of opts.Input and writes it to opts.Output.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Output == "" {
		return nil, dfgerr.InvalidConfig("output", opts.Output, "output location is required")
	}
	return o.execute(ctx, "dfgflow.run", opts, func(ctx context.Context, run *runState) error {
		return run.stage(ctx, StageRender, func(ctx context.Context) error {
			return o.writeOutput(ctx, run, opts)
		})
	})
}

// Generate discovers the graph of opts.Input and writes the artifact to w.
// opts.Output is ignored.
func (o *Orchestrator) Generate(ctx context.Context, opts Options, w io.Writer) (*Result, error) {
	return o.execute(ctx, "dfgflow.generate", opts, func(ctx context.Context, run *runState) error {
		return run.stage(ctx, StageRender, func(ctx context.Context) error {
			return o.emit(ctx, run.res, w)
		})
	})
}

// Info discovers the summary of opts.Input without encoding or writing
// anything.
func (o *Orchestrator) Info(ctx context.Context, opts Options) (*Result, error) {
	opts.Format = FormatJSON
	return o.execute(ctx, "dfgflow.info", opts, nil)
}

// runState carries one run through its stages.
type runState struct {
	o      *Orchestrator
	res    *Result
	logger *slog.Logger
}

// stage runs fn as one timed, traced stage.
func (run *runState) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dfgerr.ContextCanceled(string(stage), err)
	}
	ctx, span := telemetry.StartSpan(ctx, "dfgflow."+string(stage))
	run.o.notify(ProgressEvent{Stage: stage})
	run.logger.Debug("stage started", "stage", stage)

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	telemetry.EndSpan(span, err)

	run.res.Timings = append(run.res.Timings, StageTiming{Stage: stage, Duration: d})
	if run.o.metrics != nil {
		run.o.metrics.ObserveStage(string(stage), d)
	}
	if err != nil {
		return err
	}
	run.o.notify(ProgressEvent{Stage: stage, Done: true, Duration: d})
	run.logger.Debug("stage finished", "stage", stage, "duration", d)
	return nil
}

func (o *Orchestrator) notify(ev ProgressEvent) {
	if o.progress != nil {
		o.progress(ev)
	}
}

func (o *Orchestrator) execute(ctx context.Context, name string, opts Options, output func(context.Context, *runState) error) (*Result, error) {
	runID := uuid.NewString()
	run := &runState{
		o:      o,
		res:    &Result{RunID: runID, Source: opts.Input, Output: opts.Output},
		logger: o.logger.With("run_id", runID),
	}

	ctx, span := telemetry.StartSpan(ctx, name,
		attribute.String("run_id", runID),
		attribute.String("input", opts.Input),
	)
	start := time.Now()

	err := o.discover(ctx, run, opts)
	if err == nil && output != nil {
		err = output(ctx, run)
	}
	run.res.Total = time.Since(start)

	o.record(run, err)
	telemetry.EndSpan(span, err)
	if err != nil {
		run.logger.Error("run failed", "error", err, "duration", run.res.Total)
		return nil, err
	}
	run.logger.Info("run finished",
		"traces", run.res.Stats.Traces,
		"events", run.res.Stats.Events,
		"pairs", len(run.res.Summary.Pairs),
		"retained", run.res.Retained,
		"cached", run.res.Cached,
		"duration", run.res.Total,
	)
	return run.res, nil
}

// discover fills in the summary, from the cache when possible, and the
// encoded model unless the artifact is JSON.
func (o *Orchestrator) discover(ctx context.Context, run *runState, opts Options) error {
	res := run.res
	format, err := opts.resolveFormat()
	if err != nil {
		return err
	}
	res.Format = format
	if format != FormatJSON {
		if err := encoder.New(opts.Encoder, nil, nil).Options().Validate(); err != nil {
			return err
		}
	}
	if opts.Columns.CaseColumn == "" || opts.Columns.ActivityColumn == "" || opts.Columns.TimestampColumn == "" {
		return dfgerr.InvalidConfig("columns", opts.Columns, "case, activity and timestamp columns are required")
	}

	local := opts.Input
	if scheme, _, key := storage.ParsePath(opts.Input); scheme == "file" {
		local = key
	}
	cleanup := func() {}
	defer func() { cleanup() }()
	if storage.IsRemote(opts.Input) {
		err := run.stage(ctx, StageFetch, func(ctx context.Context) error {
			path, remove, err := storage.Fetch(ctx, opts.Input, opts.S3)
			if err != nil {
				return err
			}
			local, cleanup = path, remove
			return nil
		})
		if err != nil {
			return err
		}
	}

	if o.lookup(ctx, run, opts, local) {
		return o.encode(ctx, run, opts)
	}

	p := pool.New(opts.Workers)

	var d *dataset.Dataset
	err = run.stage(ctx, StageLoad, func(ctx context.Context) error {
		var err error
		if d, err = dataset.Open(ctx, local, opts.datasetOptions()); err != nil {
			return err
		}
		return eventlog.RequireColumns(d, opts.Columns.CaseColumn, opts.Columns.ActivityColumn, opts.Columns.TimestampColumn)
	})
	if d != nil {
		defer d.Release()
	}
	if err != nil {
		return err
	}
	res.Stats.Rows = d.NumRows()

	var log *model.EventLog
	err = run.stage(ctx, StageIndex, func(ctx context.Context) error {
		var err error
		log, err = eventlog.NewIndexer(opts.Columns, p, run.logger).Index(ctx, d)
		return err
	})
	if err != nil {
		return err
	}
	res.Stats.Events = log.NumEvents()

	var r *dfg.Result
	err = run.stage(ctx, StageAggregate, func(ctx context.Context) error {
		var err error
		r, err = dfg.Aggregate(ctx, log, p)
		return err
	})
	if err != nil {
		return err
	}
	res.Stats.Traces = r.Traces
	res.Stats.NonEmptyTraces = r.NonEmpty
	res.Stats.Observations = r.Observations
	res.Stats.InvalidTimestamps = r.InvalidTimestamps
	if r.InvalidTimestamps > 0 {
		run.logger.Warn("latency defaulted to zero for pairs with invalid timestamps", "pairs", r.InvalidTimestamps)
	}

	err = run.stage(ctx, StageSummarize, func(ctx context.Context) error {
		var err error
		res.Summary, err = dfg.Summarize(ctx, r, p)
		return err
	})
	if err != nil {
		return err
	}

	o.store(ctx, run)
	return o.encode(ctx, run, opts)
}

func (o *Orchestrator) encode(ctx context.Context, run *runState, opts Options) error {
	if run.res.Format == FormatJSON {
		return nil
	}
	return run.stage(ctx, StageEncode, func(ctx context.Context) error {
		// Node IDs are content-addressed, so a per-run table keeps them
		// stable without retaining labels between requests.
		m, err := encoder.New(opts.Encoder, nil, run.logger).Encode(ctx, run.res.Summary)
		if err != nil {
			return err
		}
		run.res.Model = m
		run.res.Retained = len(m.ActivityEdges())
		return nil
	})
}

// lookup loads a cached summary. Cache failures are logged and treated
// as a miss.
func (o *Orchestrator) lookup(ctx context.Context, run *runState, opts Options, local string) bool {
	if o.cache == nil || !opts.cacheable() {
		return false
	}
	key, err := checkpoint.FingerprintFile(local, opts.cacheParts()...)
	if err != nil {
		run.logger.Warn("fingerprint failed", "error", err)
		return false
	}
	run.res.CacheKey = key

	snap, err := o.cache.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			run.logger.Warn("snapshot load failed", "backend", o.cache.Name(), "error", err)
		}
		return false
	}
	run.res.Cached = true
	run.res.Summary = snap.Summary
	run.res.Stats = snap.Stats
	run.logger.Info("snapshot hit", "backend", o.cache.Name(), "key", key, "created_at", snap.CreatedAt)
	return true
}

func (o *Orchestrator) store(ctx context.Context, run *runState) {
	if o.cache == nil || run.res.CacheKey == "" {
		return
	}
	snap := &checkpoint.Snapshot{
		Key:       run.res.CacheKey,
		Source:    run.res.Source,
		RunID:     run.res.RunID,
		Summary:   run.res.Summary,
		Stats:     run.res.Stats,
		CreatedAt: time.Now(),
	}
	if err := o.cache.Save(ctx, snap); err != nil {
		run.logger.Warn("snapshot save failed", "backend", o.cache.Name(), "error", err)
	}
}

// writeOutput writes the artifact to a local file atomically, or buffers
// it and uploads it for s3:// outputs.
func (o *Orchestrator) writeOutput(ctx context.Context, run *runState, opts Options) error {
	if !storage.IsRemote(opts.Output) {
		_, _, path := storage.ParsePath(opts.Output)
		return render.WriteAtomic(path, func(w io.Writer) error {
			return o.emit(ctx, run.res, w)
		})
	}

	var buf bytes.Buffer
	if err := o.emit(ctx, run.res, &buf); err != nil {
		return err
	}
	st, key, err := storage.Open(ctx, opts.Output, opts.S3)
	if err != nil {
		return err
	}
	w, err := st.Writer(ctx, key)
	if err != nil {
		return err
	}
	if _, err := buf.WriteTo(w); err != nil {
		w.Close()
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "upload output").WithContext("location", opts.Output)
	}
	if err := w.Close(); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "upload output").WithContext("location", opts.Output)
	}
	return nil
}

// emit writes the artifact of res to w.
func (o *Orchestrator) emit(ctx context.Context, res *Result, w io.Writer) error {
	if res.Format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Summary); err != nil {
			return dfgerr.Wrap(err, dfgerr.CodeRenderFailed, "encode summary")
		}
		return nil
	}
	return o.renderer.Render(ctx, res.Model, res.Format, w)
}

func (o *Orchestrator) record(run *runState, err error) {
	if o.metrics == nil {
		return
	}
	switch {
	case err == nil && run.res.Cached:
		o.metrics.IncRun(telemetry.StatusCached)
	case err == nil:
		o.metrics.IncRun(telemetry.StatusSuccess)
	case dfgerr.IsCode(err, dfgerr.CodeContextCanceled):
		o.metrics.IncRun(telemetry.StatusCanceled)
	default:
		o.metrics.IncRun(telemetry.StatusFailed)
	}
	if err == nil && run.res.Summary != nil {
		s := run.res.Stats
		o.metrics.ObserveRun(s.Rows, s.Traces, len(run.res.Summary.Pairs), run.res.Retained, s.InvalidTimestamps)
	}
}
