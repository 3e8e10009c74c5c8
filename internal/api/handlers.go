// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package api provides the HTTP surface of the Merchdash server: read
// endpoints over the local mirror, the manual sync trigger, and the batch
// notification dispatch.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/merchdash/merchdash/internal/models"
)

// Store is the read surface the handlers need from the mirror database.
// Satisfied by *database.DB.
type Store interface {
	Ping(ctx context.Context) error
	GetCatalogEntry(ctx context.Context, id string) (*models.CatalogEntry, error)
	ListCatalogEntries(ctx context.Context, limit, offset int) ([]models.CatalogEntry, int, error)
	ListMemberships(ctx context.Context, limit, offset int) ([]models.Membership, int, error)
	ListMembershipsByProduct(ctx context.Context, productID string, limit, offset int) ([]models.Membership, int, error)
	GetStats(ctx context.Context) (*models.StatsResponse, error)
}

// SyncTrigger is the manual-sync surface of the sync manager.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) error
	LastSyncTime() time.Time
}

// MessageDispatcher runs one batch dispatch. Satisfied by *dispatch.Dispatcher.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, productID, body string) (*models.DispatchOutcome, error)
}

// Handler bundles the dependencies shared by all HTTP handlers.
type Handler struct {
	store      Store
	syncMgr    SyncTrigger
	dispatcher MessageDispatcher
	startTime  time.Time

	defaultPageSize int
	maxPageSize     int
}

// NewHandler creates the handler set.
func NewHandler(store Store, syncMgr SyncTrigger, dispatcher MessageDispatcher, defaultPageSize, maxPageSize int) *Handler {
	return &Handler{
		store:           store,
		syncMgr:         syncMgr,
		dispatcher:      dispatcher,
		startTime:       time.Now(),
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// healthResponse is the payload for the health endpoint.
type healthResponse struct {
	Status        string     `json:"status"`
	Database      string     `json:"database"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}

// Health reports process and database health. Returns 503 when the database
// ping fails so load balancers stop routing here.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Database:      "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if last := h.syncMgr.LastSyncTime(); !last.IsZero() {
		resp.LastSyncTime = &last
	}

	status := http.StatusOK
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, &models.APIResponse{
		Status:   resp.Status,
		Data:     resp,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Stats returns mirror row counts and per-stream cursor positions.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to read stats", err)
		return
	}
	if last := h.syncMgr.LastSyncTime(); !last.IsZero() {
		stats.LastSyncTime = &last
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   stats,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}
