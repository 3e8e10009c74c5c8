// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/merchdash/merchdash/internal/dispatch"
	"github.com/merchdash/merchdash/internal/logging"
	"github.com/merchdash/merchdash/internal/models"
	syncpkg "github.com/merchdash/merchdash/internal/sync"
)

// NotificationRequest is the request body for the dispatch endpoint.
type NotificationRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Message   string `json:"message" validate:"required,max=4000"`
}

// Notifications dispatches one message to every member of a product.
//
// The call is synchronous: the response carries the full DispatchOutcome
// once every chunk has been processed. Recipient-level failures do not fail
// the request; they are reported inside the outcome.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	outcome, err := h.dispatcher.Dispatch(r.Context(), req.ProductID, req.Message)
	if errors.Is(err, dispatch.ErrEmptyMessage) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "message body must not be empty", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DISPATCH_ERROR", "dispatch failed", err)
		return
	}

	logging.Info().
		Str("product_id", sanitizeLogValue(req.ProductID)).
		Int("total", outcome.TotalProcessed).
		Int("errors", outcome.ErrorCount).
		Msg("Notification dispatch handled")

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     outcome,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// SyncTrigger starts a synchronization sweep on demand. Responds 409 when a
// sweep is already running.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	err := h.syncMgr.TriggerSync(r.Context())
	if errors.Is(err, syncpkg.ErrSyncInProgress) {
		respondError(w, http.StatusConflict, "SYNC_IN_PROGRESS", "a sync sweep is already running", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "SYNC_FAILED", "sync sweep failed", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"result": "sync completed"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}
