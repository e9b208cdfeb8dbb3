// Package config resolves memsearchd's daemon-wide configuration from an
// optional YAML file and CLI flag overrides, following the same
// flags-override-file-overrides-defaults resolution order the teacher's
// own config loader uses.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Default values for the spec's per-query ceilings and socket paths.
const (
	DefaultRequestSocketPath = "/tmp/mem_search_service_requests.sock"
	DefaultResponsePrefix    = "mem_search_service"
	DefaultMaxFileBytes      = 16 << 20 // 16 MiB
	DefaultMaxQueryMatches   = 20_000
	DefaultMaxQueryBytes     = 10 << 20 // 10 MiB
	DefaultQueryTimeoutSec   = 30
	DefaultRequestQueueSize  = 4096
)

// Config is the daemon's resolved, flat configuration.
type Config struct {
	RequestSocketPath string `yaml:"request_socket"`
	ResponsePrefix    string `yaml:"response_prefix"`
	Workers           int    `yaml:"workers"`
	MaxFileBytes      int64  `yaml:"max_file_bytes"`
	MaxQueryMatches   int    `yaml:"max_query_matches"`
	MaxQueryBytes     int64  `yaml:"max_query_bytes"`
	QueryTimeoutSec   int    `yaml:"query_timeout"`
	LogLevel          string `yaml:"log_level"`
	RequestQueueSize  int    `yaml:"request_queue_size"`
}

// Default returns the daemon's built-in defaults.
func Default() *Config {
	return &Config{
		RequestSocketPath: DefaultRequestSocketPath,
		ResponsePrefix:    DefaultResponsePrefix,
		Workers:           workerDefault(),
		MaxFileBytes:      DefaultMaxFileBytes,
		MaxQueryMatches:   DefaultMaxQueryMatches,
		MaxQueryBytes:     DefaultMaxQueryBytes,
		QueryTimeoutSec:   DefaultQueryTimeoutSec,
		LogLevel:          "info",
		RequestQueueSize:  DefaultRequestQueueSize,
	}
}

func workerDefault() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	return n
}

// LoadFile reads a YAML config file and merges it over the built-in
// defaults. A missing path is not an error: Default() is returned as-is.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that resolved values are usable, returning the first
// problem found.
func (c *Config) Validate() error {
	if c.RequestSocketPath == "" {
		return fmt.Errorf("request socket path must not be empty")
	}
	if c.ResponsePrefix == "" {
		return fmt.Errorf("response prefix must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("max file bytes must be > 0, got %d", c.MaxFileBytes)
	}
	if c.MaxQueryMatches <= 0 {
		return fmt.Errorf("max query matches must be > 0, got %d", c.MaxQueryMatches)
	}
	if c.MaxQueryBytes <= 0 {
		return fmt.Errorf("max query bytes must be > 0, got %d", c.MaxQueryBytes)
	}
	if c.QueryTimeoutSec <= 0 {
		return fmt.Errorf("query timeout must be > 0, got %d", c.QueryTimeoutSec)
	}
	return nil
}

// ResponseSocketPath returns the per-tenant response socket path for pid,
// following the spec's "/tmp/<prefix>_response_<pid>.sock" convention.
func (c *Config) ResponseSocketPath(pid uint32) string {
	return fmt.Sprintf("/tmp/%s_response_%d.sock", c.ResponsePrefix, pid)
}
