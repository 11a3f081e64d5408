package models

import (
	"fmt"
	"net/url"
	"time"
)

// ProjectConfig is the top-level configuration for the chargerules service.
type ProjectConfig struct {
	Athena    AthenaConfig    `yaml:"athena" json:"athena"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Execution ExecutionConfig `yaml:"execution" json:"execution"`
}

// AthenaConfig contains connection details for the remote health-records API.
type AthenaConfig struct {
	BaseURL               string `yaml:"base_url" json:"base_url"`
	TokenURL              string `yaml:"token_url" json:"token_url"`
	PracticeID            string `yaml:"practice_id" json:"practice_id"`
	DepartmentID          string `yaml:"department_id" json:"department_id"`
	ClientID              string `yaml:"client_id" json:"client_id"`
	ClientSecret          string `yaml:"client_secret" json:"client_secret"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// DatabaseConfig contains result-store settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// RetryConfig controls retry behavior for transient remote errors.
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// ExecutionConfig controls run batching.
type ExecutionConfig struct {
	BatchSize    int `yaml:"batch_size" json:"batch_size"`
	BatchPauseMs int `yaml:"batch_pause_ms" json:"batch_pause_ms"`
}

// RequestTimeout returns the per-call timeout for remote requests.
func (c AthenaConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// BatchPause returns the inter-batch pause that lets progress pollers
// observe partial state.
func (c ExecutionConfig) BatchPause() time.Duration {
	if c.BatchPauseMs < 0 {
		return 0
	}
	return time.Duration(c.BatchPauseMs) * time.Millisecond
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Athena: AthenaConfig{
			BaseURL:               "",
			TokenURL:              "",
			PracticeID:            "",
			DepartmentID:          "1",
			RequestTimeoutSeconds: 120,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Database: DatabaseConfig{
			URL:      "",
			MaxConns: 8,
			MinConns: 2,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
		Execution: ExecutionConfig{
			BatchSize:    10,
			BatchPauseMs: 100,
		},
	}
}

// Validate checks if the configuration is internally consistent.
func (c *ProjectConfig) Validate() error {
	if c.Athena.BaseURL != "" {
		if _, err := url.Parse(c.Athena.BaseURL); err != nil {
			return fmt.Errorf("invalid athena base_url: %w", err)
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be > 0, got %d", c.Retry.MaxAttempts)
	}

	if c.Retry.InitialBackoffMs <= 0 {
		return fmt.Errorf("retry initial_backoff_ms must be > 0, got %d", c.Retry.InitialBackoffMs)
	}

	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return fmt.Errorf("retry max_backoff_ms (%d) must be >= initial_backoff_ms (%d)",
			c.Retry.MaxBackoffMs, c.Retry.InitialBackoffMs)
	}

	if c.Execution.BatchSize <= 0 {
		return fmt.Errorf("execution batch_size must be > 0, got %d", c.Execution.BatchSize)
	}

	return nil
}

// Validate checks if the AthenaConfig has all fields required to reach the
// remote API. Called by commands that actually talk to it.
func (c *AthenaConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("athena base_url is required")
	}

	if c.PracticeID == "" {
		return fmt.Errorf("athena practice_id is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("athena client_id is required")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("athena client_secret is required")
	}

	return nil
}
