// Package config provides unified configuration loading for defsim.
// It supports loading from YAML files, .env files and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/defsim/internal/batch"
	"github.com/nvandessel/defsim/internal/experiment"
)

// LocalFile is the project-level config file name.
const LocalFile = "defsim.yaml"

// Config contains all defsim settings. The experiment space lives in the
// same document.
type Config struct {
	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Execution controls how parameter sets are run locally.
	Execution ExecutionConfig `json:"execution" yaml:"execution"`

	// Batch configures chunking and the Redis queue.
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Store configures the SQLite results database.
	Store StoreConfig `json:"store" yaml:"store"`

	// MetricsAddr, when set, serves Prometheus metrics on that address
	// while experiments run.
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`

	// Experiment is the parameter space to expand.
	Experiment experiment.Space `json:"experiment,omitempty" yaml:"experiment,omitempty"`
}

// LoggingConfig configures defsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" also writes simulation events to <dir>/events.jsonl.
	Level string `json:"level" yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format"`

	// Dir receives events.jsonl at debug and trace.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// ExecutionConfig controls local execution.
type ExecutionConfig struct {
	// Mode is "serial" or "parallel".
	Mode string `json:"mode" yaml:"mode"`

	// NumCores is the worker count in parallel mode; -1 uses every CPU.
	NumCores int `json:"num_cores" yaml:"num_cores"`

	// ChunkSize is the number of sets a local worker takes at once.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// Seed is the experiment seed every run seed derives from.
	Seed int64 `json:"seed" yaml:"seed"`

	// Repetitions is how many times each combination runs.
	Repetitions int `json:"repetitions" yaml:"repetitions"`
}

// BatchConfig configures distributed execution.
type BatchConfig struct {
	// ChunkSize is the number of sets per exported or queued chunk.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig locates the batch queue.
type RedisConfig struct {
	Addr string `json:"addr" yaml:"addr"`

	// Password supports ${VAR} syntax for env vars.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	DB     int           `json:"db" yaml:"db"`
	Prefix string        `json:"prefix" yaml:"prefix"`
	TTL    time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`

	// Wait is how long a worker blocks on an empty queue per poll.
	Wait time.Duration `json:"wait,omitempty" yaml:"wait,omitempty"`

	// ClaimTimeout returns a chunk to the queue when its worker has held
	// it this long without reporting back. Zero never reclaims.
	ClaimTimeout time.Duration `json:"claim_timeout,omitempty" yaml:"claim_timeout,omitempty"`
}

// RedactedPassword masks the password for display.
func (c RedisConfig) RedactedPassword() string {
	if c.Password == "" {
		return ""
	}
	return "(set)"
}

// String implements fmt.Stringer to prevent accidental password logging.
func (c RedisConfig) String() string {
	return fmt.Sprintf("RedisConfig{Addr:%s, DB:%d, Prefix:%s, Password:%s}",
		c.Addr, c.DB, c.Prefix, c.RedactedPassword())
}

// StoreConfig configures the results database.
type StoreConfig struct {
	// Path is the SQLite file. Empty means ~/.defsim/results.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Execution: ExecutionConfig{
			Mode:        experiment.Parallel,
			NumCores:    -1,
			ChunkSize:   1,
			Repetitions: 1,
		},
		Batch: BatchConfig{
			ChunkSize: batch.DefaultChunkSize,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "defsim:",
				TTL:          7 * 24 * time.Hour,
				Wait:         5 * time.Second,
				ClaimTimeout: 24 * time.Hour,
			},
		},
	}
}

// Load loads configuration from the default locations and environment
// variables. Order: .env -> defaults -> first of ./defsim.yaml and
// ~/.defsim/config.yaml -> environment variables.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	config := Default()
	for _, path := range searchPaths() {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
		break
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPath loads path (or the default locations when path is empty) and
// applies environment overrides.
func LoadPath(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

func searchPaths() []string {
	paths := []string{LocalFile}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".defsim", "config.yaml"))
	}
	return paths
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Batch.Redis.Addr = expandEnvVars(config.Batch.Redis.Addr)
	config.Batch.Redis.Password = expandEnvVars(config.Batch.Redis.Password)
	config.Store.Path = expandEnvVars(config.Store.Path)
	config.Logging.Dir = expandEnvVars(config.Logging.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	if c.Execution.Mode != experiment.Serial && c.Execution.Mode != experiment.Parallel {
		return fmt.Errorf("invalid execution mode: %s (valid: serial, parallel)", c.Execution.Mode)
	}
	if c.Execution.NumCores == 0 || c.Execution.NumCores < -1 {
		return fmt.Errorf("num_cores must be positive or -1, got %d", c.Execution.NumCores)
	}
	if c.Execution.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.Execution.ChunkSize)
	}
	if c.Execution.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1, got %d", c.Execution.Repetitions)
	}

	if c.Batch.ChunkSize < 0 {
		return fmt.Errorf("batch chunk_size must be non-negative, got %d", c.Batch.ChunkSize)
	}
	if c.Batch.Redis.DB < 0 {
		return fmt.Errorf("redis db must be non-negative, got %d", c.Batch.Redis.DB)
	}
	if c.Batch.Redis.TTL < 0 || c.Batch.Redis.Wait < 0 || c.Batch.Redis.ClaimTimeout < 0 {
		return fmt.Errorf("redis ttl, wait and claim_timeout must be non-negative")
	}

	if len(c.Experiment) > 0 {
		if err := c.Experiment.Validate(); err != nil {
			return fmt.Errorf("experiment: %w", err)
		}
	}
	return nil
}

// Workers converts NumCores to an experiment.Runner worker count.
func (c *Config) Workers() int {
	if c.Execution.NumCores < 0 {
		return 0
	}
	return c.Execution.NumCores
}

// applyEnvOverrides applies environment variable overrides to the config.
// Unparseable numbers are an error rather than silently ignored.
func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("DEFSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("DEFSIM_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if v := os.Getenv("DEFSIM_LOG_DIR"); v != "" {
		config.Logging.Dir = v
	}
	if v := os.Getenv("DEFSIM_MODE"); v != "" {
		config.Execution.Mode = v
	}
	if v := os.Getenv("DEFSIM_REDIS_ADDR"); v != "" {
		config.Batch.Redis.Addr = v
	}
	if v := os.Getenv("DEFSIM_REDIS_PASSWORD"); v != "" {
		config.Batch.Redis.Password = v
	}
	if v := os.Getenv("DEFSIM_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("DEFSIM_METRICS_ADDR"); v != "" {
		config.MetricsAddr = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"DEFSIM_NUM_CORES", &config.Execution.NumCores},
		{"DEFSIM_CHUNK_SIZE", &config.Batch.ChunkSize},
		{"DEFSIM_REPETITIONS", &config.Execution.Repetitions},
		{"DEFSIM_REDIS_DB", &config.Batch.Redis.DB},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("DEFSIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DEFSIM_SEED: %w", err)
		}
		config.Execution.Seed = n
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
