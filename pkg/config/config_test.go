package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Discovery.MaxEdges != 30 {
		t.Errorf("MaxEdges = %d, want 30", cfg.Discovery.MaxEdges)
	}
	if cfg.Columns.Case != "case:concept:name" {
		t.Errorf("Columns.Case = %q", cfg.Columns.Case)
	}
	if cfg.Render.Output != "dfg.svg" {
		t.Errorf("Render.Output = %q", cfg.Render.Output)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max edges", func(c *Config) { c.Discovery.MaxEdges = 0 }},
		{"negative workers", func(c *Config) { c.Discovery.Workers = -1 }},
		{"weighting", func(c *Config) { c.Discovery.Weighting = "mean" }},
		{"format", func(c *Config) { c.Render.Format = "gif" }},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"s3 without bucket", func(c *Config) { c.Cache.Backend = "s3" }},
		{"empty case column", func(c *Config) { c.Columns.Case = "" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"upload size", func(c *Config) { c.Server.MaxUploadSize = "lots" }},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !dfgerr.IsCode(err, dfgerr.CodeInvalidConfig) {
				t.Errorf("Validate() = %v, want E601", err)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"512", 512, true},
		{"64KB", 64 << 10, true},
		{"100MB", 100 << 20, true},
		{"1gb", 1 << 30, true},
		{"", 0, false},
		{"-5MB", 0, false},
		{"MB", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseSize(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestManager_LoadExplicitFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "dfgflow-config-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
columns:
  case: order_id
discovery:
  max_edges: 12
  weighting: frequency
render:
  timeout: 30s
cache:
  backend: local
  dir: ` + dir + `
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()

	if cfg.Columns.Case != "order_id" {
		t.Errorf("Columns.Case = %q", cfg.Columns.Case)
	}
	if cfg.Columns.Activity != "concept:name" {
		t.Errorf("Columns.Activity should keep its default, got %q", cfg.Columns.Activity)
	}
	if cfg.Discovery.MaxEdges != 12 || cfg.Discovery.Weighting != "frequency" {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}
	if cfg.Render.Timeout != 30*time.Second {
		t.Errorf("Render.Timeout = %v", cfg.Render.Timeout)
	}
	if cfg.Cache.Backend != "local" || cfg.Cache.Dir != dir {
		t.Errorf("Cache = %+v", cfg.Cache)
	}

	paths := m.GetPaths()
	if len(paths) == 0 || paths[len(paths)-1] != path {
		t.Errorf("GetPaths() = %v", paths)
	}
}

func TestManager_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("discovery:\n  max_edges: 12\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DFGFLOW_MAX_EDGES", "7")
	t.Setenv("DFGFLOW_ACTIVITY_COLUMN", "step")

	m := NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get().Discovery.MaxEdges; got != 7 {
		t.Errorf("MaxEdges = %d, want 7", got)
	}
	if got := m.Get().Columns.Activity; got != "step" {
		t.Errorf("Columns.Activity = %q, want step", got)
	}
}

func TestManager_LoadMissingExplicit(t *testing.T) {
	m := NewManager()
	err := m.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !dfgerr.IsCode(err, dfgerr.CodeFileNotFound) {
		t.Errorf("Load() = %v, want E101", err)
	}
}

func TestManager_LoadBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("discovery: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	err := NewManager().Load(path)
	if !dfgerr.IsCode(err, dfgerr.CodeInvalidConfig) {
		t.Errorf("Load() = %v, want E601", err)
	}
}

func TestManager_WriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	m := NewManager()
	m.Get().Discovery.MaxEdges = 9
	if err := m.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	m2 := NewManager()
	if err := m2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m2.Get().Discovery.MaxEdges; got != 9 {
		t.Errorf("MaxEdges = %d, want 9", got)
	}
}
