// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logflow/dfgflow/internal/model"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Config holds all dfgflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Columns   ColumnsConfig   `yaml:"columns"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Render    RenderConfig    `yaml:"render"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// ColumnsConfig names the load-bearing dataset columns.
type ColumnsConfig struct {
	Case      string `yaml:"case"`
	Activity  string `yaml:"activity"`
	Timestamp string `yaml:"timestamp"`
}

// DiscoveryConfig controls trace indexing and graph encoding.
type DiscoveryConfig struct {
	Workers   int    `yaml:"workers"`   // 0 = auto
	MaxEdges  int    `yaml:"max_edges"` // retained edge cap
	Weighting string `yaml:"weighting"` // latency | frequency
}

// RenderConfig controls the Graphviz invocation.
type RenderConfig struct {
	Engine  string        `yaml:"engine"` // path or name of the dot binary
	Layout  string        `yaml:"layout"` // dot | neato | fdp | ...
	Format  string        `yaml:"format"` // svg | png | pdf | dot | json
	Output  string        `yaml:"output"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig selects the snapshot cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"` // none | local | redis | s3
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
}

// RedisConfig for the Redis snapshot backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// S3Config for S3 snapshots and s3:// paths.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// TelemetryConfig for tracing and metrics export.
type TelemetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC collector
	Insecure        bool    `yaml:"insecure"`
	SampleRate      float64 `yaml:"sample_rate"`
	MetricsTextfile string  `yaml:"metrics_textfile"`
}

// ServerConfig for the HTTP server.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Host          string `yaml:"host"`
	MaxUploadSize string `yaml:"max_upload_size"`
}

// LogConfig for the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Version: 1,
		Columns: ColumnsConfig{
			Case:      model.CaseKey,
			Activity:  model.ActivityKey,
			Timestamp: model.TimestampKey,
		},
		Discovery: DiscoveryConfig{
			Workers:   0, // auto
			MaxEdges:  30,
			Weighting: "latency",
		},
		Render: RenderConfig{
			Engine:  "dot",
			Layout:  "dot",
			Format:  "svg",
			Output:  "dfg.svg",
			Timeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			Backend: "none",
			Dir:     filepath.Join(homeDir, ".dfgflow", "cache"),
			TTL:     24 * time.Hour,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "dfgflow:snapshot:",
			},
			S3: S3Config{
				Prefix: "dfgflow/snapshots/",
				Region: "us-east-1",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Server: ServerConfig{
			Port:          8080,
			Host:          "localhost",
			MaxUploadSize: "100MB",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects unknown enum values and non-positive caps.
func (c *Config) Validate() error {
	if c.Columns.Case == "" {
		return dfgerr.InvalidConfig("columns.case", c.Columns.Case, "case column must be set")
	}
	if c.Columns.Activity == "" {
		return dfgerr.InvalidConfig("columns.activity", c.Columns.Activity, "activity column must be set")
	}
	if c.Columns.Timestamp == "" {
		return dfgerr.InvalidConfig("columns.timestamp", c.Columns.Timestamp, "timestamp column must be set")
	}
	if c.Discovery.Workers < 0 {
		return dfgerr.InvalidConfig("discovery.workers", c.Discovery.Workers, "workers must not be negative")
	}
	if c.Discovery.MaxEdges <= 0 {
		return dfgerr.InvalidConfig("discovery.max_edges", c.Discovery.MaxEdges, "max_edges must be positive")
	}
	if !oneOf(c.Discovery.Weighting, "latency", "frequency") {
		return dfgerr.InvalidConfig("discovery.weighting", c.Discovery.Weighting, "unknown weighting")
	}
	if c.Render.Format != "" && !oneOf(c.Render.Format, "svg", "png", "pdf", "dot", "json") {
		return dfgerr.InvalidConfig("render.format", c.Render.Format, "unknown output format")
	}
	if !oneOf(c.Cache.Backend, "none", "local", "redis", "s3") {
		return dfgerr.InvalidConfig("cache.backend", c.Cache.Backend, "unknown cache backend")
	}
	if c.Cache.Backend == "s3" && c.Cache.S3.Bucket == "" {
		return dfgerr.InvalidConfig("cache.s3.bucket", "", "bucket required for s3 cache")
	}
	if !oneOf(c.Log.Format, "text", "json") {
		return dfgerr.InvalidConfig("log.format", c.Log.Format, "unknown log format")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return dfgerr.InvalidConfig("server.port", c.Server.Port, "port out of range")
	}
	if _, err := ParseSize(c.Server.MaxUploadSize); err != nil {
		return dfgerr.InvalidConfig("server.max_upload_size", c.Server.MaxUploadSize, err.Error())
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return dfgerr.InvalidConfig("telemetry.sample_rate", c.Telemetry.SampleRate, "sample rate must be in [0, 1]")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ParseSize parses sizes such as "512", "64KB", "100MB" or "1GB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order. explicit,
// when non-empty, is loaded after the well-known paths and must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Missing files are fine; broken ones are not.
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if os.IsNotExist(err) {
				return dfgerr.FileNotFound(explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	m.loadEnv()

	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/dfgflow/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".dfgflow", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".dfgflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeInvalidConfig, "invalid config file").
			WithContext("path", path)
	}

	m.config.Merge(&partial)
	return nil
}

// Merge copies the non-zero values of src into c.
func (c *Config) Merge(src *Config) {
	// Columns
	setString(&c.Columns.Case, src.Columns.Case)
	setString(&c.Columns.Activity, src.Columns.Activity)
	setString(&c.Columns.Timestamp, src.Columns.Timestamp)

	// Discovery
	setInt(&c.Discovery.Workers, src.Discovery.Workers)
	setInt(&c.Discovery.MaxEdges, src.Discovery.MaxEdges)
	setString(&c.Discovery.Weighting, src.Discovery.Weighting)

	// Render
	setString(&c.Render.Engine, src.Render.Engine)
	setString(&c.Render.Layout, src.Render.Layout)
	setString(&c.Render.Format, src.Render.Format)
	setString(&c.Render.Output, src.Render.Output)
	if src.Render.Timeout != 0 {
		c.Render.Timeout = src.Render.Timeout
	}

	// Cache
	setString(&c.Cache.Backend, src.Cache.Backend)
	setString(&c.Cache.Dir, src.Cache.Dir)
	if src.Cache.TTL != 0 {
		c.Cache.TTL = src.Cache.TTL
	}
	setString(&c.Cache.Redis.Address, src.Cache.Redis.Address)
	setString(&c.Cache.Redis.Password, src.Cache.Redis.Password)
	setInt(&c.Cache.Redis.DB, src.Cache.Redis.DB)
	setString(&c.Cache.Redis.Prefix, src.Cache.Redis.Prefix)
	setString(&c.Cache.S3.Bucket, src.Cache.S3.Bucket)
	setString(&c.Cache.S3.Prefix, src.Cache.S3.Prefix)
	setString(&c.Cache.S3.Region, src.Cache.S3.Region)
	setString(&c.Cache.S3.Endpoint, src.Cache.S3.Endpoint)
	setString(&c.Cache.S3.AccessKey, src.Cache.S3.AccessKey)
	setString(&c.Cache.S3.SecretKey, src.Cache.S3.SecretKey)

	// Telemetry
	if src.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	setString(&c.Telemetry.Endpoint, src.Telemetry.Endpoint)
	if src.Telemetry.SampleRate != 0 {
		c.Telemetry.SampleRate = src.Telemetry.SampleRate
	}
	setString(&c.Telemetry.MetricsTextfile, src.Telemetry.MetricsTextfile)

	// Server
	setInt(&c.Server.Port, src.Server.Port)
	setString(&c.Server.Host, src.Server.Host)
	setString(&c.Server.MaxUploadSize, src.Server.MaxUploadSize)

	// Log
	setString(&c.Log.Level, src.Log.Level)
	setString(&c.Log.Format, src.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// loadEnv loads configuration from DFGFLOW_* environment variables.
func (m *Manager) loadEnv() {
	c := m.config

	setString(&c.Columns.Case, os.Getenv("DFGFLOW_CASE_COLUMN"))
	setString(&c.Columns.Activity, os.Getenv("DFGFLOW_ACTIVITY_COLUMN"))
	setString(&c.Columns.Timestamp, os.Getenv("DFGFLOW_TIMESTAMP_COLUMN"))

	if v := os.Getenv("DFGFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Discovery.Workers = n
		}
	}
	if v := os.Getenv("DFGFLOW_MAX_EDGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Discovery.MaxEdges = n
		}
	}
	setString(&c.Discovery.Weighting, os.Getenv("DFGFLOW_WEIGHTING"))

	setString(&c.Render.Engine, os.Getenv("DFGFLOW_ENGINE"))
	setString(&c.Render.Format, os.Getenv("DFGFLOW_FORMAT"))

	setString(&c.Cache.Backend, os.Getenv("DFGFLOW_CACHE"))
	setString(&c.Cache.Redis.Address, os.Getenv("DFGFLOW_REDIS_ADDR"))
	setString(&c.Cache.S3.Bucket, os.Getenv("DFGFLOW_S3_BUCKET"))
	setString(&c.Cache.S3.Endpoint, os.Getenv("DFGFLOW_S3_ENDPOINT"))

	setString(&c.Telemetry.Endpoint, os.Getenv("DFGFLOW_OTLP_ENDPOINT"))
	if v := os.Getenv("DFGFLOW_TELEMETRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Enabled = b
		}
	}

	if v := os.Getenv("DFGFLOW_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}

	setString(&c.Log.Level, os.Getenv("DFGFLOW_LOG_LEVEL"))
	setString(&c.Log.Format, os.Getenv("DFGFLOW_LOG_FORMAT"))
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Write writes the current config as YAML to path.
func (m *Manager) Write(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
