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

// GetCursor returns the last committed page for a stream. found is false
// when the stream has never written a cursor row; callers use that to
// distinguish a brand-new stream from one that committed page zero.
func (db *DB) GetCursor(ctx context.Context, stream string) (int, bool, error) {
	var page int
	err := db.conn.QueryRowContext(ctx,
		`SELECT page FROM sync_cursors WHERE stream = ?`, stream).Scan(&page)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("get_cursor").Inc()
		return 0, false, fmt.Errorf("failed to read cursor for %s: %w", stream, err)
	}
	return page, true, nil
}

// SetCursor durably records the last committed page for a stream.
func (db *DB) SetCursor(ctx context.Context, stream string, page int) error {
	const query = `INSERT INTO sync_cursors (stream, page, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (stream) DO UPDATE SET
			page = EXCLUDED.page,
			updated_at = EXCLUDED.updated_at`

	if _, err := db.conn.ExecContext(ctx, query, stream, page, time.Now().UTC()); err != nil {
		metrics.DBQueryErrors.WithLabelValues("set_cursor").Inc()
		return fmt.Errorf("failed to write cursor for %s: %w", stream, err)
	}
	return nil
}

// ListCursors returns all stream cursors, for the stats endpoint.
func (db *DB) ListCursors(ctx context.Context) ([]models.SyncCursor, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT stream, page, updated_at FROM sync_cursors ORDER BY stream`)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("list_cursors").Inc()
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer closeQuietly(rows)

	var cursors []models.SyncCursor
	for rows.Next() {
		var c models.SyncCursor
		if err := rows.Scan(&c.Stream, &c.Page, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursor iteration failed: %w", err)
	}
	return cursors, nil
}

// GetStats aggregates mirror counts for the stats endpoint.
func (db *DB) GetStats(ctx context.Context) (*models.StatsResponse, error) {
	stats := &models.StatsResponse{Cursors: make(map[string]int)}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&stats.Products); err != nil {
		metrics.DBQueryErrors.WithLabelValues("stats").Inc()
		return nil, fmt.Errorf("failed to count catalog entries: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships`).Scan(&stats.Memberships); err != nil {
		metrics.DBQueryErrors.WithLabelValues("stats").Inc()
		return nil, fmt.Errorf("failed to count memberships: %w", err)
	}

	cursors, err := db.ListCursors(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cursors {
		stats.Cursors[c.Stream] = c.Page
	}

	return stats, nil
}
