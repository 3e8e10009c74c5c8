// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/merchdash/merchdash/internal/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.UpstreamConfig{
		BaseURL:        srv.URL,
		Token:          "test-token",
		PageSize:       50,
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Millisecond,
	}
	return NewClient(cfg), srv
}

func TestFetchCatalogPage(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if r.URL.Path != "/products" {
			t.Errorf("path = %q, want /products", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "3" {
			t.Errorf("page param = %q, want 3", got)
		}
		if got := r.URL.Query().Get("per"); got != "50" {
			t.Errorf("per param = %q, want 50", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "prod-1", "name": "Widget", "visibility": "visible"},
				{"id": "prod-2", "name": "Gadget", "visibility": "hidden"}
			],
			"pagination": {"current_page": 3, "total_page": 7, "total_count": 342}
		}`))
	}))

	page, err := client.FetchCatalogPage(context.Background(), 3)
	if err != nil {
		t.Fatalf("FetchCatalogPage: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("got %d records, want 2", len(page.Data))
	}
	if page.TotalPages() != 7 {
		t.Errorf("TotalPages() = %d, want 7", page.TotalPages())
	}
	if !page.Data[0].Visible() {
		t.Error("prod-1 should be visible")
	}
	if page.Data[1].Visible() {
		t.Error("prod-2 should be hidden")
	}
}

func TestFetchCatalogPageLegacyTotalPage(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Older provider versions omit the pagination block.
		_, _ = w.Write([]byte(`{"data": [{"id": "p1", "name": "A", "visibility": "visible"}], "total_page": 4}`))
	}))

	page, err := client.FetchCatalogPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchCatalogPage: %v", err)
	}
	if page.TotalPages() != 4 {
		t.Errorf("TotalPages() = %d, want 4 from legacy field", page.TotalPages())
	}
}

func TestFetchMembershipPage(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/memberships" {
			t.Errorf("path = %q, want /memberships", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"data": [{"id": "m1", "user": "u1", "product": "p1", "email": "a@b.c", "status": "active"}],
			"pagination": {"current_page": 1, "total_page": 1, "total_count": 1}
		}`))
	}))

	page, err := client.FetchMembershipPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchMembershipPage: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].User != "u1" {
		t.Fatalf("unexpected page data: %+v", page.Data)
	}
}

func TestFetchPageHTTPError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
	}))

	_, err := client.FetchCatalogPage(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error type = %T, want *UpstreamError", err)
	}
	if ue.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", ue.StatusCode)
	}
	if ue.Operation != "fetch_products" {
		t.Errorf("Operation = %q, want fetch_products", ue.Operation)
	}
}

func TestRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data": [], "pagination": {"total_page": 0}}`))
	}))

	_, err := client.FetchCatalogPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream called %d times, want 3 (2 rate limited + 1 success)", got)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.FetchCatalogPage(context.Background(), 1)
	if err == nil {
		t.Fatal("expected rate limit exhaustion error")
	}
}

func TestSendMessageSuccess(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/users/user-42/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["content"] != "hello there" {
			t.Errorf("content = %q, want %q", payload["content"], "hello there")
		}
		_, _ = w.Write([]byte(`{"success": true}`))
	}))

	result, err := client.SendMessage(context.Background(), "user-42", "hello there")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
}

func TestSendMessageRecipientRefusal(t *testing.T) {
	// A well-formed refusal is data, not an error: the recipient failed,
	// not the transport.
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success": false, "error": "user has DMs closed"}`))
	}))

	result, err := client.SendMessage(context.Background(), "user-1", "hi")
	if err != nil {
		t.Fatalf("refusal should not be a transport error, got %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.Error != "user has DMs closed" {
		t.Errorf("Error = %q, want upstream message", result.Error)
	}
}

func TestSendMessageRefusalWithoutBody(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	result, err := client.SendMessage(context.Background(), "ghost", "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.Error != "HTTP 404" {
		t.Errorf("Error = %q, want synthesized status message", result.Error)
	}
}

func TestSendMessageTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Refuse connections.

	cfg := &config.UpstreamConfig{
		BaseURL:        srv.URL,
		Token:          "t",
		PageSize:       50,
		Timeout:        time.Second,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	}
	client := NewClient(cfg)

	_, err := client.SendMessage(context.Background(), "u1", "hi")
	if err == nil {
		t.Fatal("expected transport error for closed server")
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error type = %T, want *UpstreamError", err)
	}
}

func TestClientContextCancellation(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchCatalogPage(ctx, 1)
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}
