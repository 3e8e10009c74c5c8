// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateAPI()
}

// validateUpstream validates the commerce provider connection settings.
func (c *Config) validateUpstream() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Upstream.BaseURL, "UPSTREAM_BASE_URL"); err != nil {
		return err
	}
	if c.Upstream.Token == "" {
		return fmt.Errorf("UPSTREAM_TOKEN is required")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("UPSTREAM_PAGE_SIZE must be positive, got %d", c.Upstream.PageSize)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.Upstream.Timeout)
	}
	return nil
}

// validateSync validates the ingestion sweep settings.
func (c *Config) validateSync() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.PageDelay < 0 {
		return fmt.Errorf("SYNC_PAGE_DELAY must not be negative, got %s", c.Sync.PageDelay)
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("SYNC_RETRY_ATTEMPTS must be at least 1, got %d", c.Sync.RetryAttempts)
	}
	return nil
}

// validateDispatch validates the batch dispatch settings.
func (c *Config) validateDispatch() error {
	if c.Dispatch.ChunkSize <= 0 {
		return fmt.Errorf("DISPATCH_CHUNK_SIZE must be positive, got %d", c.Dispatch.ChunkSize)
	}
	if c.Dispatch.ChunkDelay < 0 {
		return fmt.Errorf("DISPATCH_CHUNK_DELAY must not be negative, got %s", c.Dispatch.ChunkDelay)
	}
	if c.Dispatch.Parallelism < 1 {
		return fmt.Errorf("DISPATCH_PARALLELISM must be at least 1, got %d", c.Dispatch.Parallelism)
	}
	return nil
}

// validateServer validates the HTTP server settings.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

// validateAPI validates API pagination settings.
func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize <= 0 {
		return fmt.Errorf("API_DEFAULT_PAGE_SIZE must be positive, got %d", c.API.DefaultPageSize)
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("API_MAX_PAGE_SIZE (%d) must not be below API_DEFAULT_PAGE_SIZE (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	return nil
}

// validateHTTPURL checks that a value parses as an absolute http(s) URL.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	if strings.HasSuffix(raw, "/") {
		return fmt.Errorf("%s must not end with a trailing slash", name)
	}
	return nil
}
