package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/dataset"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/pipeline"
)

// runFlags are shared by every command that runs discovery.
type runFlags struct {
	input       string
	output      string
	caseColumn  string
	activity    string
	timestamp   string
	maxEdges    int
	workers     int
	weighting   string
	format      string
	engine      string
	cache       string
	inputFormat string
	delimiter   string
	sheet       string
	query       string
}

func (f *runFlags) register(cmd *cobra.Command, withOutput bool) {
	d := config.Default()
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "Event log: file path, s3:// URL or postgres:// URL (required)")
	fl.StringVar(&f.caseColumn, "case", d.Columns.Case, "Case identifier column")
	fl.StringVar(&f.activity, "activity", d.Columns.Activity, "Activity column")
	fl.StringVar(&f.timestamp, "timestamp", d.Columns.Timestamp, "Timestamp column")
	fl.IntVar(&f.workers, "workers", 0, "Parallel workers (0 = number of CPUs)")
	fl.StringVar(&f.cache, "cache", "", "Snapshot cache backend (none, local, redis, s3)")
	fl.StringVar(&f.inputFormat, "input-format", "", "Input format (csv, tsv, parquet, xlsx, duckdb, postgres); detected when empty")
	fl.StringVar(&f.delimiter, "delimiter", "", "CSV field delimiter; sniffed when empty")
	fl.StringVar(&f.sheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	fl.StringVar(&f.query, "query", "", "SQL query or table name for database inputs")
	if withOutput {
		fl.StringVarP(&f.output, "output", "o", d.Render.Output, "Output path or s3:// URL")
		fl.IntVar(&f.maxEdges, "max-edges", d.Discovery.MaxEdges, "Maximum number of edges drawn")
		fl.StringVar(&f.weighting, "weighting", d.Discovery.Weighting, "Edge weighting (latency, frequency)")
		fl.StringVar(&f.format, "format", "", "Output format (svg, png, pdf, dot, json); from the output extension when empty")
		fl.StringVar(&f.engine, "engine", d.Render.Engine, "Graphviz binary")
	}
	_ = cmd.MarkFlagRequired("input")
}

// apply copies explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if changed("case") {
		c.Columns.Case = f.caseColumn
	}
	if changed("activity") {
		c.Columns.Activity = f.activity
	}
	if changed("timestamp") {
		c.Columns.Timestamp = f.timestamp
	}
	if changed("workers") {
		c.Discovery.Workers = f.workers
	}
	if changed("max-edges") {
		c.Discovery.MaxEdges = f.maxEdges
	}
	if changed("weighting") {
		c.Discovery.Weighting = f.weighting
	}
	if changed("engine") {
		c.Render.Engine = f.engine
	}
	if changed("cache") {
		c.Cache.Backend = f.cache
	}

	switch {
	case changed("output") && changed("format"):
		c.Render.Output = f.output
		c.Render.Format = f.format
	case changed("output"):
		// The extension decides.
		c.Render.Output = f.output
		c.Render.Format = ""
	case changed("format"):
		c.Render.Format = f.format
		c.Render.Output = strings.TrimSuffix(c.Render.Output, filepath.Ext(c.Render.Output)) + "." + strings.ToLower(f.format)
	}
}

// options resolves the configuration into run options for the input.
func (f *runFlags) options(c *config.Config) (pipeline.Options, error) {
	if err := c.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	opts, err := pipeline.FromConfig(c)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts.Input = f.input

	if f.inputFormat != "" {
		format, err := dataset.ParseFormat(f.inputFormat)
		if err != nil {
			return pipeline.Options{}, dfgerr.InvalidConfig("input-format", f.inputFormat, err.Error())
		}
		opts.Dataset.Format = format
	}
	if f.delimiter != "" {
		d := f.delimiter
		if d == `\t` || strings.EqualFold(d, "tab") {
			d = "\t"
		}
		if len(d) != 1 {
			return pipeline.Options{}, dfgerr.InvalidConfig("delimiter", f.delimiter, "must be a single byte")
		}
		opts.Dataset.Delimiter = d[0]
	}
	opts.Dataset.Sheet = f.sheet
	opts.Dataset.Query = f.query
	return opts, nil
}
