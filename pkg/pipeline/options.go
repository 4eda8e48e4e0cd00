package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/dataset"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/encoder"
	"github.com/logflow/dfgflow/pkg/eventlog"
	"github.com/logflow/dfgflow/pkg/render"
	"github.com/logflow/dfgflow/pkg/storage"
)

// FormatJSON writes the summarized graph as JSON instead of rendering it.
const FormatJSON render.Format = "json"

// ParseFormat accepts every render format plus json.
func ParseFormat(s string) (render.Format, error) {
	if strings.EqualFold(s, string(FormatJSON)) {
		return FormatJSON, nil
	}
	return render.ParseFormat(s)
}

// FormatFromPath guesses the output format from a file extension.
func FormatFromPath(path string) (render.Format, bool) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON, true
	}
	return render.FormatFromPath(path)
}

// Options describes one discovery run.
type Options struct {
	// Input is a local path, an s3:// URL or a PostgreSQL URL.
	Input string

	// Output is a local path or an s3:// URL. Empty when the caller
	// takes the artifact from Generate.
	Output string

	// Format of the artifact. Empty means the output extension, then svg.
	Format render.Format

	Dataset dataset.Options
	Columns eventlog.Options
	Encoder encoder.Options

	// Workers bounds every parallel stage. Zero means NumCPU.
	Workers int

	// S3 supplies credentials and endpoint for s3:// locations.
	S3 storage.S3Config
}

// FromConfig builds run options from the configuration. Input and Output
// are left for the caller.
func FromConfig(cfg *config.Config) (Options, error) {
	weighting, err := dfg.ParseWeighting(cfg.Discovery.Weighting)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Output: cfg.Render.Output,
		Columns: eventlog.Options{
			CaseColumn:      cfg.Columns.Case,
			ActivityColumn:  cfg.Columns.Activity,
			TimestampColumn: cfg.Columns.Timestamp,
		},
		Encoder: encoder.Options{
			MaxEdges:  cfg.Discovery.MaxEdges,
			Weighting: weighting,
			Name:      "dfg",
		},
		Workers: cfg.Discovery.Workers,
		S3: storage.S3Config{
			Region:           cfg.Cache.S3.Region,
			Endpoint:         cfg.Cache.S3.Endpoint,
			AccessKeyID:      cfg.Cache.S3.AccessKey,
			SecretAccessKey:  cfg.Cache.S3.SecretKey,
			OperationTimeout: time.Minute,
		},
	}
	if cfg.Render.Format != "" {
		if opts.Format, err = ParseFormat(cfg.Render.Format); err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

// resolveFormat picks the artifact format: explicit, then the output
// extension, then svg.
func (o Options) resolveFormat() (render.Format, error) {
	if o.Format != "" {
		return ParseFormat(string(o.Format))
	}
	if f, ok := FormatFromPath(o.Output); ok {
		return f, nil
	}
	return render.FormatSVG, nil
}

// datasetOptions forces the case and activity columns to text and the
// timestamp column to a date-time, whatever the reader would infer.
func (o Options) datasetOptions() dataset.Options {
	d := o.Dataset
	d.StringColumns = append(append([]string(nil), d.StringColumns...), o.Columns.CaseColumn, o.Columns.ActivityColumn)
	d.TimeColumns = append(append([]string(nil), d.TimeColumns...), o.Columns.TimestampColumn)
	if d.Workers == 0 {
		d.Workers = o.Workers
	}
	return d
}

// cacheable reports whether the input is a file whose bytes can be
// fingerprinted.
func (o Options) cacheable() bool {
	format := o.Dataset.Format
	if format == dataset.FormatAuto {
		format = dataset.DetectFormat(o.Input, nil)
	}
	return format != dataset.FormatPostgres
}

// cacheParts are the options that change the summary of one input.
func (o Options) cacheParts() []string {
	return []string{
		o.Columns.CaseColumn,
		o.Columns.ActivityColumn,
		o.Columns.TimestampColumn,
		string(o.Dataset.Format),
		string([]byte{o.Dataset.Delimiter}),
		o.Dataset.Sheet,
		o.Dataset.Query,
	}
}
