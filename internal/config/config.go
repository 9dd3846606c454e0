// Package config loads kgingest's pipeline configuration from YAML with
// environment-variable overrides; loaded values are not range-checked.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"kgingest/internal/logging"
)

// Config holds all kgingest configuration.
type Config struct {
	// Name/version identify the pipeline instance in telemetry.
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig configures the graph store adapter (C1).
type StoreConfig struct {
	// Path is the SQLite database file backing the graph store.
	Path string `yaml:"path"`
	// QueryTimeout bounds any single store operation (spec §5: 60s default).
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// MaxRetries bounds transient-error backoff retries (spec §5: 5 default).
	MaxRetries int `yaml:"max_retries"`
}

// PipelineConfig holds the options enumerated in spec.md §6's configuration table.
type PipelineConfig struct {
	// MaxWorkers sizes the per-stage worker pool. Default = CPU count.
	MaxWorkers int `yaml:"max_workers"`
	// CommitBatchSize is commits per write transaction (default 200).
	CommitBatchSize int `yaml:"commit_batch_size"`
	// ChunkBatchSize is chunks per write transaction (default 500).
	ChunkBatchSize int `yaml:"chunk_batch_size"`
	// MentionTopKPerChunk caps fulltext hits per chunk (default 10).
	MentionTopKPerChunk int `yaml:"mention_topk_per_chunk"`
	// MinConfidence is the derivation discard threshold (default 0.3).
	MinConfidence float64 `yaml:"min_confidence"`
	// ResetGraph wipes the graph before running (default false).
	ResetGraph bool `yaml:"reset_graph"`
	// IncludeUntracked augments the scan with untracked working-tree files.
	IncludeUntracked bool `yaml:"include_untracked"`
	// PerFileTimeout is the soft parse timeout per file (default 30s).
	PerFileTimeout time.Duration `yaml:"per_file_timeout"`
	// MaxFileSize skips files larger than this during scanning (default 10 MiB).
	MaxFileSize int64 `yaml:"max_file_size"`
	// Strict aborts the job on the first stage failure instead of degrading.
	Strict bool `yaml:"strict"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "kgingest",
		Version: "0.1.0",

		Store: StoreConfig{
			Path:         filepath.Join(".kgingest", "graph.db"),
			QueryTimeout: 60 * time.Second,
			MaxRetries:   5,
		},

		Pipeline: PipelineConfig{
			MaxWorkers:          runtime.NumCPU(),
			CommitBatchSize:     200,
			ChunkBatchSize:      500,
			MentionTopKPerChunk: 10,
			MinConfidence:       0.3,
			ResetGraph:          false,
			IncludeUntracked:    false,
			PerFileTimeout:      30 * time.Second,
			MaxFileSize:         10 * 1024 * 1024,
			Strict:              false,
		},

		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets operators override a handful of hot config knobs
// without editing the YAML file, mirroring the teacher's env-override idiom.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("KGINGEST_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if v := os.Getenv("KGINGEST_MAX_WORKERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Pipeline.MaxWorkers = n
		}
	}
	if v := os.Getenv("KGINGEST_MIN_CONFIDENCE"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			c.Pipeline.MinConfidence = f
		}
	}
	if v := os.Getenv("KGINGEST_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// InitLogging wires the config's logging section into the logging package.
// Call once at process startup after Load.
func (c *Config) InitLogging(workspace string) error {
	return logging.Initialize(workspace, c.Logging.DebugMode, c.Logging.Level, c.Logging.JSONFormat)
}
