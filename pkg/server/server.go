// Package server exposes discovery over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/dataset"
	"github.com/logflow/dfgflow/pkg/dfg"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

// statusClientClosed is logged when the caller went away mid-run.
const statusClientClosed = 499

// Deps are the collaborators of a Server.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Metrics      *telemetry.Metrics

	// Defaults are the run options every request starts from.
	Defaults pipeline.Options

	// MaxUploadSize caps the request body. Zero means unlimited.
	MaxUploadSize int64

	Runs    *RunStore
	Logger  *slog.Logger
	Version string
}

// Server handles HTTP requests.
type Server struct {
	orch     *pipeline.Orchestrator
	metrics  *telemetry.Metrics
	defaults pipeline.Options
	maxBody  int64
	runs     *RunStore
	logger   *slog.Logger
	version  string
	router   chi.Router
}

// New creates a server and its routes.
func New(deps Deps) *Server {
	s := &Server{
		orch:     deps.Orchestrator,
		metrics:  deps.Metrics,
		defaults: deps.Defaults,
		maxBody:  deps.MaxUploadSize,
		runs:     deps.Runs,
		logger:   deps.Logger,
		version:  deps.Version,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics()
	}
	if s.runs == nil {
		s.runs = NewRunStore(100)
	}
	if s.orch == nil {
		s.orch = pipeline.NewOrchestrator(pipeline.Deps{Metrics: s.metrics, Logger: s.logger})
	}
	s.router = s.routes()
	return s
}

// FromConfig builds a server from the configuration and a prepared
// orchestrator.
func FromConfig(cfg *config.Config, orch *pipeline.Orchestrator, metrics *telemetry.Metrics, logger *slog.Logger, version string) (*Server, error) {
	defaults, err := pipeline.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	defaults.Output = ""

	limit, err := config.ParseSize(cfg.Server.MaxUploadSize)
	if err != nil {
		return nil, dfgerr.InvalidConfig("server.max_upload_size", cfg.Server.MaxUploadSize, err.Error())
	}
	return New(Deps{
		Orchestrator:  orch,
		Metrics:       metrics,
		Defaults:      defaults,
		MaxUploadSize: limit,
		Logger:        logger,
		Version:       version,
	}), nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Post("/dfg", s.handleDiscover)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{runID}", s.handleRun)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runs.Get(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDiscover spools the uploaded event log to disk and answers with
// the rendered graph.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	opts, inputFormat, err := s.requestOptions(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	path, err := spool(r.Body, inputFormat)
	if path != "" {
		defer os.Remove(path)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	opts.Input = path

	var buf bytes.Buffer
	res, err := s.orch.Generate(r.Context(), opts, &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.runs.Put(res)

	contentType := res.Format.ContentType()
	if res.Format == pipeline.FormatJSON {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Run-Id", res.RunID)
	w.Header().Set("X-Cache", cacheHeader(res.Cached))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// requestOptions overlays the query parameters on the server defaults.
func (s *Server) requestOptions(r *http.Request) (pipeline.Options, dataset.Format, error) {
	opts := s.defaults
	q := r.URL.Query()

	if v := q.Get("format"); v != "" {
		f, err := pipeline.ParseFormat(v)
		if err != nil {
			return opts, "", dfgerr.InvalidConfig("format", v, "expected svg, png, pdf, dot or json")
		}
		opts.Format = f
	}
	if v := q.Get("case"); v != "" {
		opts.Columns.CaseColumn = v
	}
	if v := q.Get("activity"); v != "" {
		opts.Columns.ActivityColumn = v
	}
	if v := q.Get("timestamp"); v != "" {
		opts.Columns.TimestampColumn = v
	}
	if v := q.Get("max_edges"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, "", dfgerr.InvalidConfig("max_edges", v, "not an integer")
		}
		opts.Encoder.MaxEdges = n
	}
	if v := q.Get("weighting"); v != "" {
		weighting, err := dfg.ParseWeighting(v)
		if err != nil {
			return opts, "", err
		}
		opts.Encoder.Weighting = weighting
	}
	if v := q.Get("delimiter"); v != "" {
		if len(v) != 1 {
			return opts, "", dfgerr.InvalidConfig("delimiter", v, "must be a single byte")
		}
		opts.Dataset.Delimiter = v[0]
	}
	opts.Dataset.Sheet = q.Get("sheet")

	input := dataset.FormatCSV
	if v := q.Get("input"); v != "" {
		f, err := dataset.ParseFormat(v)
		if err != nil {
			return opts, "", dfgerr.InvalidConfig("input", v, "unsupported input format")
		}
		switch f {
		case dataset.FormatCSV, dataset.FormatTSV, dataset.FormatParquet, dataset.FormatXLSX:
			input = f
		case dataset.FormatAuto:
		default:
			return opts, "", dfgerr.InvalidConfig("input", v, "only file formats can be uploaded")
		}
	}
	opts.Dataset.Format = input
	return opts, input, nil
}

// spool copies the body to a temporary file named after the input format
// so the reader can be chosen from the extension.
func spool(body io.Reader, format dataset.Format) (string, error) {
	f, err := os.CreateTemp("", "dfgflow-upload-*."+string(format))
	if err != nil {
		return "", dfgerr.Wrap(err, dfgerr.CodeStorage, "create upload file")
	}
	path := f.Name()
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return path, err
	}
	if err := f.Close(); err != nil {
		return path, dfgerr.Wrap(err, dfgerr.CodeStorage, "close upload file")
	}
	return path, nil
}

// fail maps err onto a status code and a JSON error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	requestID, _ := requestIDFromContext(r.Context())
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "discovery request failed",
		"request_id", requestID,
		"status", status,
		"error", err,
	)
	writeError(w, status, string(dfgerr.GetCode(err)), err.Error())
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case dfgerr.IsConfig(err), dfgerr.IsCode(err, dfgerr.CodeInvalidTimestamp):
		return http.StatusBadRequest
	case dfgerr.IsCode(err, dfgerr.CodeEngineUnavailable), dfgerr.IsCode(err, dfgerr.CodeRenderFailed):
		return http.StatusBadGateway
	case dfgerr.IsCode(err, dfgerr.CodeContextCanceled):
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func cacheHeader(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
