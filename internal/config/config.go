// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package config provides layered configuration loading for Merchdash.
//
// Configuration is loaded via Koanf v2 with the following precedence
// (highest wins):
//
//	Environment variables > config file (YAML) > built-in defaults
//
// See koanf.go for the loading mechanics and env var name mapping.
package config

import "time"

// Config is the root configuration for the Merchdash server.
type Config struct {
	Upstream UpstreamConfig `koanf:"upstream"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Server   ServerConfig   `koanf:"server"`
	API      APIConfig      `koanf:"api"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// UpstreamConfig holds connection settings for the commerce provider API.
//
// Environment Variables:
//   - UPSTREAM_BASE_URL: API base URL (e.g., https://api.example.com/v2)
//   - UPSTREAM_TOKEN: Bearer token for authentication
//   - UPSTREAM_PAGE_SIZE: Records requested per page (default: 50)
//   - UPSTREAM_TIMEOUT: Per-request timeout (default: 30s)
type UpstreamConfig struct {
	BaseURL  string        `koanf:"base_url"`
	Token    string        `koanf:"token"`
	PageSize int           `koanf:"page_size"`
	Timeout  time.Duration `koanf:"timeout"`

	// Rate limit handling for HTTP 429 responses.
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// CircuitBreaker toggles the gobreaker wrapper around the client.
	CircuitBreaker bool `koanf:"circuit_breaker"`
}

// DatabaseConfig holds DuckDB settings for the local mirror store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()

	// Bounded connect retry. Connection attempts beyond this count fail
	// definitively instead of retrying forever.
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectDelay    time.Duration `koanf:"connect_delay"`
}

// SyncConfig controls the periodic ingestion sweeps.
type SyncConfig struct {
	// Interval between scheduled sweeps. The first sweep runs at startup.
	Interval time.Duration `koanf:"interval"`

	// PageDelay is the fixed pause between page fetches within a sweep.
	// Pacing control for the upstream rate limit, not a correctness knob.
	PageDelay time.Duration `koanf:"page_delay"`

	// RetryAttempts and RetryDelay govern per-page fetch retries before the
	// sweep is abandoned until the next tick.
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// DispatchConfig controls batch message dispatch.
type DispatchConfig struct {
	// ChunkSize is the number of recipients pulled from the store and sent
	// between pacing delays.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkDelay is the pause between chunks. No delay follows the final chunk.
	ChunkDelay time.Duration `koanf:"chunk_delay"`

	// Parallelism bounds concurrent sends within a chunk.
	Parallelism int `koanf:"parallelism"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// APIConfig holds API response pagination settings.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// SecurityConfig holds CORS and API rate limit settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are applied
// first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:        "",
			Token:          "",
			PageSize:       50,
			Timeout:        30 * time.Second,
			MaxRetries:     5,
			RetryBaseDelay: 1 * time.Second,
			CircuitBreaker: true,
		},
		Database: DatabaseConfig{
			Path:            "/data/merchdash.duckdb",
			MaxMemory:       "1GB",
			Threads:         0,
			ConnectAttempts: 5,
			ConnectDelay:    2 * time.Second,
		},
		Sync: SyncConfig{
			Interval:      time.Minute,
			PageDelay:     300 * time.Millisecond,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		},
		Dispatch: DispatchConfig{
			ChunkSize:   100,
			ChunkDelay:  time.Second,
			Parallelism: 1,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
