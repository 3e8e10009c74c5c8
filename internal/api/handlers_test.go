// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/dispatch"
	"github.com/merchdash/merchdash/internal/models"
	syncpkg "github.com/merchdash/merchdash/internal/sync"
)

type mockAPIStore struct {
	entries     []models.CatalogEntry
	memberships []models.Membership
	pingErr     error
}

func (s *mockAPIStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *mockAPIStore) GetCatalogEntry(ctx context.Context, id string) (*models.CatalogEntry, error) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return &s.entries[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *mockAPIStore) ListCatalogEntries(ctx context.Context, limit, offset int) ([]models.CatalogEntry, int, error) {
	total := len(s.entries)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return s.entries[offset:end], total, nil
}

func (s *mockAPIStore) ListMemberships(ctx context.Context, limit, offset int) ([]models.Membership, int, error) {
	return pageSlice(s.memberships, limit, offset)
}

func (s *mockAPIStore) ListMembershipsByProduct(ctx context.Context, productID string, limit, offset int) ([]models.Membership, int, error) {
	var matched []models.Membership
	for _, m := range s.memberships {
		if m.ProductID != nil && *m.ProductID == productID {
			matched = append(matched, m)
		}
	}
	return pageSlice(matched, limit, offset)
}

func (s *mockAPIStore) GetStats(ctx context.Context) (*models.StatsResponse, error) {
	return &models.StatsResponse{
		Products:    len(s.entries),
		Memberships: len(s.memberships),
		Cursors:     map[string]int{"products": 2},
	}, nil
}

func pageSlice(in []models.Membership, limit, offset int) ([]models.Membership, int, error) {
	total := len(in)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return in[offset:end], total, nil
}

type mockSyncTrigger struct {
	err      error
	lastSync time.Time
	calls    int
}

func (m *mockSyncTrigger) TriggerSync(ctx context.Context) error {
	m.calls++
	return m.err
}

func (m *mockSyncTrigger) LastSyncTime() time.Time { return m.lastSync }

type mockMessageDispatcher struct {
	outcome *models.DispatchOutcome
	err     error

	gotProduct string
	gotBody    string
}

func (m *mockMessageDispatcher) Dispatch(ctx context.Context, productID, body string) (*models.DispatchOutcome, error) {
	m.gotProduct = productID
	m.gotBody = body
	if m.err != nil {
		return nil, m.err
	}
	if m.outcome != nil {
		return m.outcome, nil
	}
	return &models.DispatchOutcome{Errors: []string{}}, nil
}

func strPtr(s string) *string { return &s }

func testRouter(store Store, syncMgr SyncTrigger, dispatcher MessageDispatcher) http.Handler {
	h := NewHandler(store, syncMgr, dispatcher, 20, 100)
	return NewRouter(h, &config.SecurityConfig{
		CORSOrigins:       []string{"*"},
		RateLimitDisabled: true,
	})
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return &resp
}

func TestProductsPagination(t *testing.T) {
	store := &mockAPIStore{}
	for _, id := range []string{"p1", "p2", "p3"} {
		store.entries = append(store.entries, models.CatalogEntry{ID: id, Title: "T-" + id, Visible: true})
	}
	router := testRouter(store, &mockSyncTrigger{}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products?page=2&limit=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	payload, _ := json.Marshal(resp.Data)
	var products models.ProductsResponse
	if err := json.Unmarshal(payload, &products); err != nil {
		t.Fatalf("decode products payload: %v", err)
	}
	if len(products.Products) != 1 || products.Products[0].ID != "p3" {
		t.Errorf("page 2 = %+v, want just p3", products.Products)
	}
	if products.Pagination.Total != 3 || products.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v", products.Pagination)
	}
}

func TestProductsLimitClamped(t *testing.T) {
	store := &mockAPIStore{entries: []models.CatalogEntry{{ID: "p1"}}}
	h := NewHandler(store, &mockSyncTrigger{}, &mockMessageDispatcher{}, 20, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=100000", nil)
	_, limit, _ := h.pageParams(req)
	if limit != 100 {
		t.Errorf("limit = %d, want clamped to 100", limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=-5", nil)
	_, limit, _ = h.pageParams(req)
	if limit != 20 {
		t.Errorf("limit = %d, want default 20", limit)
	}
}

func TestProductNotFound(t *testing.T) {
	router := testRouter(&mockAPIStore{}, &mockSyncTrigger{}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v, want NOT_FOUND", resp.Error)
	}
}

func TestMembershipsProductFilter(t *testing.T) {
	store := &mockAPIStore{memberships: []models.Membership{
		{ID: "m1", UserID: "u1", ProductID: strPtr("p1")},
		{ID: "m2", UserID: "u2", ProductID: strPtr("p2")},
	}}
	router := testRouter(store, &mockSyncTrigger{}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/memberships?product_id=p2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"m2"`) || strings.Contains(body, `"m1"`) {
		t.Errorf("filtered body = %s", body)
	}
}

func TestNotificationsOutcomeContract(t *testing.T) {
	dispatcher := &mockMessageDispatcher{outcome: &models.DispatchOutcome{
		TotalProcessed: 3,
		SuccessCount:   2,
		ErrorCount:     1,
		Errors:         []string{"membership m2 (user u2): DMs closed"},
	}}
	router := testRouter(&mockAPIStore{}, &mockSyncTrigger{}, dispatcher)

	body := strings.NewReader(`{"product_id": "p1", "message": "hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	if dispatcher.gotProduct != "p1" || dispatcher.gotBody != "hello" {
		t.Errorf("dispatcher got %q/%q", dispatcher.gotProduct, dispatcher.gotBody)
	}

	// The outcome keys are a wire contract.
	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"totalProcessed", "successCount", "errorCount", "errors"} {
		if _, ok := resp.Data[key]; !ok {
			t.Errorf("outcome payload missing %q: %v", key, resp.Data)
		}
	}
	if resp.Data["totalProcessed"].(float64) != 3 {
		t.Errorf("totalProcessed = %v, want 3", resp.Data["totalProcessed"])
	}
}

func TestNotificationsValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing product", `{"message": "hi"}`},
		{"missing message", `{"product_id": "p1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &mockMessageDispatcher{}
			router := testRouter(&mockAPIStore{}, &mockSyncTrigger{}, dispatcher)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if dispatcher.gotBody != "" {
				t.Error("invalid request must not reach the dispatcher")
			}
		})
	}
}

func TestNotificationsWhitespaceMessage(t *testing.T) {
	dispatcher := &mockMessageDispatcher{err: dispatch.ErrEmptyMessage}
	router := testRouter(&mockAPIStore{}, &mockSyncTrigger{}, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"product_id": "p1", "message": "   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for whitespace-only message", rec.Code)
	}
}

func TestSyncTriggerConflict(t *testing.T) {
	syncMgr := &mockSyncTrigger{err: syncpkg.ErrSyncInProgress}
	router := testRouter(&mockAPIStore{}, syncMgr, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != "SYNC_IN_PROGRESS" {
		t.Errorf("error = %+v, want SYNC_IN_PROGRESS", resp.Error)
	}
}

func TestSyncTriggerSuccess(t *testing.T) {
	syncMgr := &mockSyncTrigger{}
	router := testRouter(&mockAPIStore{}, syncMgr, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if syncMgr.calls != 1 {
		t.Errorf("TriggerSync called %d times, want 1", syncMgr.calls)
	}
}

func TestSyncTriggerUpstreamFailure(t *testing.T) {
	syncMgr := &mockSyncTrigger{err: errors.New("fetch products page 3: upstream down")}
	router := testRouter(&mockAPIStore{}, syncMgr, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	lastSync := time.Now().Add(-time.Minute)
	router := testRouter(&mockAPIStore{}, &mockSyncTrigger{lastSync: lastSync}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "last_sync_time") {
		t.Error("health payload should include last_sync_time once a sweep ran")
	}
}

func TestHealthDegraded(t *testing.T) {
	store := &mockAPIStore{pingErr: errors.New("closed")}
	router := testRouter(store, &mockSyncTrigger{}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when database unreachable", rec.Code)
	}
}

func TestStats(t *testing.T) {
	store := &mockAPIStore{
		entries:     []models.CatalogEntry{{ID: "p1"}},
		memberships: []models.Membership{{ID: "m1"}},
	}
	router := testRouter(store, &mockSyncTrigger{}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"products":1`) || !strings.Contains(body, `"memberships":1`) {
		t.Errorf("stats body = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := testRouter(&mockAPIStore{}, &mockSyncTrigger{}, &mockMessageDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output should include standard Go collector series")
	}
}
