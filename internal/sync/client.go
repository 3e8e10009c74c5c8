// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

/*
client.go - Upstream Commerce API Client

This file provides the Client struct and HTTP communication layer for the
upstream commerce provider's REST API.

Client Features:
  - HTTP client with configurable timeout
  - Bearer token authentication
  - Automatic HTTP 429 rate limit handling with exponential backoff
  - JSON response parsing with typed page structs
  - Context support for cancellation and timeouts

Endpoints used:
  - GET  /products?page=N&per=M      paginated catalog listing
  - GET  /memberships?page=N&per=M   paginated membership listing
  - POST /users/{id}/messages        direct message delivery

Related Files:
  - circuit_breaker.go: circuit breaker wrapper implementing UpstreamClient
  - ingest.go: page-by-page ingestion driven by this client
*/
package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/metrics"
	"github.com/merchdash/merchdash/internal/models/upstream"
)

// maxErrorBodySize limits the maximum amount of response body read for error reporting
// This prevents unbounded memory allocation when reading large error responses
const maxErrorBodySize = 64 * 1024 // 64KB

// readBodyForError reads the response body for error reporting (max 64KB)
// Returns the body content or a placeholder message if reading fails
// Uses io.LimitReader to prevent unbounded memory allocation
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// UpstreamError describes a failure to reach the upstream provider or an
// unexpected HTTP status from it. Recipient-level delivery refusals are NOT
// reported through this type; see Client.SendMessage.
type UpstreamError struct {
	Operation  string // "fetch_products", "fetch_memberships", "send_message", "ping"
	StatusCode int    // zero when the request never produced a response
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s: HTTP %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UpstreamClient defines the upstream API operations used by the ingestion
// loop and the batch dispatcher.
//
// This interface is implemented by Client for production use, by
// CircuitBreakerClient for resilience wrapping, and by mock implementations
// for testing.
//
// All methods follow a consistent pattern:
//   - Accept context.Context as first parameter for cancellation/timeout support
//   - Return typed response structs from internal/models/upstream
//   - Return error on HTTP failures or JSON parse failures
//
// Thread Safety: All methods are safe for concurrent use.
type UpstreamClient interface {
	Ping(ctx context.Context) error
	FetchCatalogPage(ctx context.Context, page int) (*upstream.CatalogPage, error)
	FetchMembershipPage(ctx context.Context, page int) (*upstream.MembershipPage, error)
	SendMessage(ctx context.Context, userID, body string) (*upstream.SendResult, error)
}

// Client handles communication with the upstream commerce HTTP API.
//
// Features:
//   - Configurable request timeout
//   - Automatic retry on rate limiting (HTTP 429)
//   - Exponential backoff delays with Retry-After support
//   - JSON parsing with typed response structs
//
// Thread Safety: Safe for concurrent use. Each request creates its own HTTP request.
//
// Example:
//
//	client := sync.NewClient(&cfg.Upstream)
//	if err := client.Ping(ctx); err != nil {
//	    log.Fatal("upstream not reachable:", err)
//	}
//	page, err := client.FetchCatalogPage(ctx, 1)
type Client struct {
	baseURL        string
	token          string
	pageSize       int
	client         *http.Client
	maxRetries     int           // Maximum retries for rate limiting
	retryBaseDelay time.Duration // Base delay for exponential backoff
}

// NewClient creates a new upstream API client with the provided configuration.
func NewClient(cfg *config.UpstreamConfig) *Client {
	return &Client{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		pageSize:       cfg.PageSize,
		client:         &http.Client{Timeout: cfg.Timeout},
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// doRequestWithRateLimit performs an HTTP request with automatic rate limit handling.
// Implements exponential backoff for HTTP 429 responses (1s, 2s, 4s, 8s, 16s).
// The context is used for cancellation during backoff waits.
func (c *Client) doRequestWithRateLimit(ctx context.Context, method, reqURL string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Check context before attempting request
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		// Success - return response
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited (HTTP 429) - close body and retry with backoff
		_ = resp.Body.Close()

		// Last attempt - return error
		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		// Exponential backoff delay: 1s, 2s, 4s, 8s, 16s
		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))

		// Check for Retry-After header (RFC 6585)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		// Use cancellable wait instead of time.Sleep
		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// fetchPage is a generic helper that handles the common list request boilerplate.
// It builds the URL with pagination parameters, makes the request, checks the
// HTTP status, and decodes the JSON response into result.
func (c *Client) fetchPage(ctx context.Context, operation, path string, page int, result interface{}) error {
	start := time.Now()
	err := c.fetchPageInner(ctx, operation, path, page, result)
	metrics.ObserveUpstream(operation, start, err)
	return err
}

func (c *Client) fetchPageInner(ctx context.Context, operation, path string, page int, result interface{}) error {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per", strconv.Itoa(c.pageSize))
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	resp, err := c.doRequestWithRateLimit(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &UpstreamError{Operation: operation, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return &UpstreamError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &UpstreamError{Operation: operation, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

// Ping verifies connectivity to the upstream API by fetching the first
// catalog page. A successful decode means the base URL and token are valid.
func (c *Client) Ping(ctx context.Context) error {
	var page upstream.CatalogPage
	if err := c.fetchPage(ctx, "ping", "/products", 1, &page); err != nil {
		return err
	}
	return nil
}

// FetchCatalogPage retrieves one page of the product catalog.
// Pages are 1-based; the upstream reports the total page count in each response.
func (c *Client) FetchCatalogPage(ctx context.Context, page int) (*upstream.CatalogPage, error) {
	var result upstream.CatalogPage
	if err := c.fetchPage(ctx, "fetch_products", "/products", page, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchMembershipPage retrieves one page of the membership roster.
func (c *Client) FetchMembershipPage(ctx context.Context, page int) (*upstream.MembershipPage, error) {
	var result upstream.MembershipPage
	if err := c.fetchPage(ctx, "fetch_memberships", "/memberships", page, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendMessage delivers a direct message to a single upstream user.
//
// Two failure surfaces are kept distinct:
//   - A transport failure or unexpected HTTP status returns a non-nil error
//     (wrapped in *UpstreamError).
//   - A delivery refusal reported by the upstream in a well-formed response
//     returns (result, nil) with result.Success == false and result.Error set.
//
// Callers treat both as a failed delivery for the affected recipient but may
// react differently, e.g. a circuit breaker only counts the former.
func (c *Client) SendMessage(ctx context.Context, userID, body string) (*upstream.SendResult, error) {
	const operation = "send_message"
	start := time.Now()
	result, err := c.sendMessageInner(ctx, userID, body)
	metrics.ObserveUpstream(operation, start, err)
	return result, err
}

func (c *Client) sendMessageInner(ctx context.Context, userID, body string) (*upstream.SendResult, error) {
	const operation = "send_message"

	payload, err := json.Marshal(map[string]string{"content": body})
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	reqURL := fmt.Sprintf("%s/users/%s/messages", c.baseURL, url.PathEscape(userID))
	resp, err := c.doRequestWithRateLimit(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return nil, &UpstreamError{Operation: operation, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var result upstream.SendResult
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// A refusal that produced an HTTP response is a recipient-level
		// failure, not a transport failure. Surface the upstream's own error
		// message when the body carries one.
		if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil || result.Error == "" {
			result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		result.Success = false
		return &result, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &UpstreamError{Operation: operation, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return &result, nil
}
