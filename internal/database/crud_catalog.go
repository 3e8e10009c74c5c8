// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/merchdash/merchdash/internal/metrics"
	"github.com/merchdash/merchdash/internal/models"
)

// UpsertCatalogEntries writes one page of catalog records.
//
// Each record is written independently so a malformed record cannot poison
// its page: applied reports the records that landed, and the returned error
// aggregates the ones that did not. Callers decide whether a partial page is
// fatal.
//
// The upsert refreshes title, visibility, and updated_at. active_users is
// deliberately absent from the conflict clause: it is seeded to zero only
// when the row is first created and owned by membership ingestion afterward,
// so a catalog refresh can never clobber the aggregate.
func (db *DB) UpsertCatalogEntries(ctx context.Context, entries []models.CatalogEntry) (int, error) {
	const query = `INSERT INTO catalog_entries (
		id, title, visible, active_users, created_at, updated_at
	) VALUES (?, ?, ?, 0, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		visible = EXCLUDED.visible,
		updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	applied := 0
	var errs []error

	for i := range entries {
		e := &entries[i]
		if _, err := db.conn.ExecContext(ctx, query, e.ID, e.Title, e.Visible, now, now); err != nil {
			metrics.DBQueryErrors.WithLabelValues("upsert_catalog_entry").Inc()
			errs = append(errs, fmt.Errorf("entry %s: %w", e.ID, err))
			continue
		}
		applied++
	}

	return applied, errors.Join(errs...)
}

// IncrementActiveUsers adds deltas to the active_users aggregate.
//
// Only existing rows are touched: a membership referencing a product the
// catalog has not mirrored yet contributes nothing now, and will be counted
// if it reappears as new after the product lands. The aggregate only grows;
// there is no decrement path.
func (db *DB) IncrementActiveUsers(ctx context.Context, deltas map[string]int) error {
	const query = `UPDATE catalog_entries SET active_users = active_users + ? WHERE id = ?`

	var errs []error
	for id, delta := range deltas {
		if delta <= 0 {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, query, delta, id); err != nil {
			metrics.DBQueryErrors.WithLabelValues("increment_active_users").Inc()
			errs = append(errs, fmt.Errorf("product %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// GetCatalogEntry fetches a single catalog entry by id. Returns sql.ErrNoRows
// when the entry is not mirrored.
func (db *DB) GetCatalogEntry(ctx context.Context, id string) (*models.CatalogEntry, error) {
	const query = `SELECT id, title, visible, active_users, created_at, updated_at
		FROM catalog_entries WHERE id = ?`

	var e models.CatalogEntry
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Title, &e.Visible, &e.ActiveUsers, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			metrics.DBQueryErrors.WithLabelValues("get_catalog_entry").Inc()
		}
		return nil, err
	}
	return &e, nil
}

// ListCatalogEntries returns one page of the mirrored catalog ordered by id,
// together with the total row count for pagination.
func (db *DB) ListCatalogEntries(ctx context.Context, limit, offset int) ([]models.CatalogEntry, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&total); err != nil {
		metrics.DBQueryErrors.WithLabelValues("count_catalog_entries").Inc()
		return nil, 0, fmt.Errorf("failed to count catalog entries: %w", err)
	}

	const query = `SELECT id, title, visible, active_users, created_at, updated_at
		FROM catalog_entries ORDER BY id LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("list_catalog_entries").Inc()
		return nil, 0, fmt.Errorf("failed to list catalog entries: %w", err)
	}
	defer closeQuietly(rows)

	entries := make([]models.CatalogEntry, 0, limit)
	for rows.Next() {
		var e models.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Visible, &e.ActiveUsers, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("catalog entry iteration failed: %w", err)
	}

	return entries, total, nil
}
