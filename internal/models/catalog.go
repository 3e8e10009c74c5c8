// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package models defines the domain types shared across Merchdash:
// mirrored catalog entries and memberships, ingestion cursors, and the
// API response envelope.
package models

import "time"

// CatalogEntry is a locally mirrored catalog product.
//
// ActiveUsers is a derived aggregate: it is seeded to zero when the entry is
// first inserted and incremented by membership ingestion as new membership
// pages are committed. It is never reset by a catalog refresh and never
// decremented, so it is eventually consistent with the raw membership
// records rather than authoritative.
type CatalogEntry struct {
	// ID is the upstream-assigned identifier and the local primary key.
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Visible     bool      `json:"visible"`
	ActiveUsers int       `json:"active_users"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership is a locally mirrored membership record.
//
// ProductID weakly references CatalogEntry.ID: a membership may reference a
// catalog entry that has not been mirrored yet, and no referential integrity
// is enforced.
type Membership struct {
	// ID is the upstream-assigned identifier and the local primary key.
	ID string `json:"id"`

	// UserID is the owning user's upstream identifier and the send target
	// for message dispatch. May be empty when the upstream record carries
	// no resolvable user.
	UserID string `json:"user_id"`

	// ProductID is the associated catalog entry id, when the membership
	// resolves to a product.
	ProductID *string `json:"product_id"`

	Email     *string   `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncCursor records the last fully committed page for one ingestion stream.
// A value of N means pages 1..N have been durably written; the next sweep
// resumes at N+1. A missing row is treated as page 0.
type SyncCursor struct {
	Stream    string    `json:"stream"`
	Page      int       `json:"page"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DispatchOutcome is the aggregated result of one batch dispatch invocation.
// It is produced fresh per call and never persisted. JSON field names match
// the dispatch trigger's response contract.
type DispatchOutcome struct {
	// TotalProcessed is the number of recipients considered.
	TotalProcessed int `json:"totalProcessed"`

	// SuccessCount and ErrorCount always sum to TotalProcessed once the
	// dispatch returns.
	SuccessCount int `json:"successCount"`
	ErrorCount   int `json:"errorCount"`

	// Errors holds one human-readable description per failed recipient, in
	// processing order.
	Errors []string `json:"errors"`

	// Note carries a descriptive message for degenerate invocations, such
	// as a selector matching zero recipients.
	Note string `json:"note,omitempty"`
}
