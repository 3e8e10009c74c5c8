// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package models

import "time"

// APIResponse is the envelope used by every API endpoint.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is a structured error payload.
//
// Code is machine-readable (e.g. "VALIDATION_ERROR", "DATABASE_ERROR");
// Message is for humans.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PageInfo describes offset pagination applied to a listing response.
type PageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ProductsResponse is the payload for the catalog listing endpoint.
type ProductsResponse struct {
	Products   []CatalogEntry `json:"products"`
	Pagination PageInfo       `json:"pagination"`
}

// MembershipsResponse is the payload for the membership listing endpoint.
type MembershipsResponse struct {
	Memberships []Membership `json:"memberships"`
	Pagination  PageInfo     `json:"pagination"`
}

// StatsResponse is the payload for the stats endpoint.
type StatsResponse struct {
	Products     int            `json:"products"`
	Memberships  int            `json:"memberships"`
	Cursors      map[string]int `json:"cursors"`
	LastSyncTime *time.Time     `json:"last_sync_time,omitempty"`
}
