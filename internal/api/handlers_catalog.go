// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merchdash/merchdash/internal/models"
)

// Products lists the mirrored catalog with offset pagination.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	page, limit, offset := h.pageParams(r)

	entries, total, err := h.store.ListCatalogEntries(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list products", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.ProductsResponse{
			Products:   entries,
			Pagination: pageInfo(page, limit, total),
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// Product returns a single mirrored catalog entry.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.store.GetCatalogEntry(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "product not mirrored", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to read product", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     entry,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Memberships lists mirrored memberships, optionally filtered by product via
// the product_id query parameter.
func (h *Handler) Memberships(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	page, limit, offset := h.pageParams(r)

	var (
		memberships []models.Membership
		total       int
		err         error
	)
	if productID := r.URL.Query().Get("product_id"); productID != "" {
		memberships, total, err = h.store.ListMembershipsByProduct(r.Context(), productID, limit, offset)
	} else {
		memberships, total, err = h.store.ListMemberships(r.Context(), limit, offset)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list memberships", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: models.MembershipsResponse{
			Memberships: memberships,
			Pagination:  pageInfo(page, limit, total),
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}
