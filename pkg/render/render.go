// Package render turns a graph.Model into DOT text and, through the
// Graphviz command line tools, into images.
package render

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/graph/encoding/dot"

	"github.com/logflow/dfgflow/internal/logging"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/graph"
)

// Format is an output format.
type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
	FormatDOT Format = "dot"
)

// ContentType returns the MIME type of a rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPNG:
		return "image/png"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/vnd.graphviz"
	}
}

// ParseFormat validates an image or DOT format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatSVG, FormatPNG, FormatPDF, FormatDOT:
		return f, nil
	case "":
		return FormatSVG, nil
	default:
		return "", dfgerr.InvalidConfig("format", s, "renderer supports svg, png, pdf and dot")
	}
}

// Renderer writes a model in some format.
type Renderer interface {
	Render(ctx context.Context, m *graph.Model, format Format, w io.Writer) error
}

// MarshalDOT encodes m as DOT text.
func MarshalDOT(m *graph.Model) ([]byte, error) {
	out, err := dot.Marshal(m, m.Name(), "", "\t")
	if err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeRenderFailed, "marshal DOT")
	}
	return append(out, '\n'), nil
}

// Options configures the Graphviz renderer.
type Options struct {
	// Engine is the name or path of the Graphviz binary. Default: "dot".
	Engine string

	// Layout is passed as -K. Default: "dot".
	Layout string

	// Timeout bounds one invocation. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Graphviz renders by piping DOT text through the Graphviz binary.
type Graphviz struct {
	opts   Options
	logger *slog.Logger
}

// NewGraphviz creates a Graphviz renderer.
func NewGraphviz(opts Options, logger *slog.Logger) *Graphviz {
	if opts.Engine == "" {
		opts.Engine = "dot"
	}
	if opts.Layout == "" {
		opts.Layout = "dot"
	}
	return &Graphviz{opts: opts, logger: logging.OrDefault(logger)}
}

// Available reports whether the engine binary can be found.
func (g *Graphviz) Available() error {
	if _, err := exec.LookPath(g.opts.Engine); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeEngineUnavailable, "graphviz engine not found").
			WithContext("engine", g.opts.Engine)
	}
	return nil
}

// Render writes m to w. DOT output needs no engine; every other format
// runs the engine once and is not retried.
func (g *Graphviz) Render(ctx context.Context, m *graph.Model, format Format, w io.Writer) error {
	src, err := MarshalDOT(m)
	if err != nil {
		return err
	}
	if format == FormatDOT {
		_, err := w.Write(src)
		return err
	}

	path, err := exec.LookPath(g.opts.Engine)
	if err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeEngineUnavailable, "graphviz engine not found").
			WithContext("engine", g.opts.Engine)
	}

	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-K"+g.opts.Layout, "-T"+string(format))
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stdout = w
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return dfgerr.ContextCanceled("render", ctxErr)
		}
		return dfgerr.Wrap(err, dfgerr.CodeRenderFailed, "graphviz failed").
			WithContext("engine", path).
			WithContext("format", string(format)).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}

	g.logger.Debug("rendered graph",
		"engine", path,
		"format", string(format),
		"duration", time.Since(start),
	)
	return nil
}

// WriteFile renders m into path. The output is written to a temporary
// file in the same directory and renamed into place, so a failed render
// leaves any previous output untouched.
func WriteFile(ctx context.Context, r Renderer, m *graph.Model, format Format, path string) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return r.Render(ctx, m, format, w)
	})
}

// WriteAtomic creates path from whatever write produces, through a
// temporary file and a rename.
func WriteAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "create output directory").WithContext("path", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "create output file").WithContext("path", path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "write output file").WithContext("path", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "move output into place").WithContext("path", path)
	}
	return nil
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return FormatSVG, true
	case ".png":
		return FormatPNG, true
	case ".pdf":
		return FormatPDF, true
	case ".dot", ".gv":
		return FormatDOT, true
	default:
		return "", false
	}
}
