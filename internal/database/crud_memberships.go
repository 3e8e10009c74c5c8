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

// UpsertMemberships writes one page of membership records with per-record
// failure isolation, mirroring UpsertCatalogEntries.
//
// newByProduct counts rows inserted for the first time, keyed by the product
// they reference; the caller feeds these counts into the active-user
// aggregate. Re-upserting an existing membership contributes nothing, so
// replaying a page cannot inflate the aggregate.
func (db *DB) UpsertMemberships(ctx context.Context, memberships []models.Membership) (int, map[string]int, error) {
	const existsQuery = `SELECT 1 FROM memberships WHERE id = ?`
	const insertQuery = `INSERT INTO memberships (
		id, user_id, product_id, email, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	const updateQuery = `UPDATE memberships SET
		user_id = ?, product_id = ?, email = ?, status = ?, updated_at = ?
		WHERE id = ?`

	now := time.Now().UTC()
	applied := 0
	newByProduct := make(map[string]int)
	var errs []error

	for i := range memberships {
		m := &memberships[i]

		var one int
		err := db.conn.QueryRowContext(ctx, existsQuery, m.ID).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := db.conn.ExecContext(ctx, insertQuery,
				m.ID, m.UserID, m.ProductID, m.Email, m.Status, now, now); err != nil {
				metrics.DBQueryErrors.WithLabelValues("insert_membership").Inc()
				errs = append(errs, fmt.Errorf("membership %s: %w", m.ID, err))
				continue
			}
			if m.ProductID != nil {
				newByProduct[*m.ProductID]++
			}
		case err != nil:
			metrics.DBQueryErrors.WithLabelValues("membership_exists").Inc()
			errs = append(errs, fmt.Errorf("membership %s: %w", m.ID, err))
			continue
		default:
			if _, err := db.conn.ExecContext(ctx, updateQuery,
				m.UserID, m.ProductID, m.Email, m.Status, now, m.ID); err != nil {
				metrics.DBQueryErrors.WithLabelValues("update_membership").Inc()
				errs = append(errs, fmt.Errorf("membership %s: %w", m.ID, err))
				continue
			}
		}
		applied++
	}

	return applied, newByProduct, errors.Join(errs...)
}

// ListMembershipsByProduct returns one page of memberships referencing the
// given product, ordered by id for stable dispatch chunking, together with
// the total match count.
func (db *DB) ListMembershipsByProduct(ctx context.Context, productID string, limit, offset int) ([]models.Membership, int, error) {
	total, err := db.CountMembershipsByProduct(ctx, productID)
	if err != nil {
		return nil, 0, err
	}

	const query = `SELECT id, user_id, product_id, email, status, created_at, updated_at
		FROM memberships WHERE product_id = ? ORDER BY id LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, productID, limit, offset)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("list_memberships").Inc()
		return nil, 0, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer closeQuietly(rows)

	memberships, err := scanMemberships(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return memberships, total, nil
}

// ListMemberships returns one page of all mirrored memberships ordered by id.
func (db *DB) ListMemberships(ctx context.Context, limit, offset int) ([]models.Membership, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships`).Scan(&total); err != nil {
		metrics.DBQueryErrors.WithLabelValues("count_memberships").Inc()
		return nil, 0, fmt.Errorf("failed to count memberships: %w", err)
	}

	const query = `SELECT id, user_id, product_id, email, status, created_at, updated_at
		FROM memberships ORDER BY id LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("list_memberships").Inc()
		return nil, 0, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer closeQuietly(rows)

	memberships, err := scanMemberships(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return memberships, total, nil
}

// CountMembershipsByProduct returns how many memberships reference a product.
func (db *DB) CountMembershipsByProduct(ctx context.Context, productID string) (int, error) {
	var total int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE product_id = ?`, productID).Scan(&total)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("count_memberships").Inc()
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return total, nil
}

func scanMemberships(rows *sql.Rows, capHint int) ([]models.Membership, error) {
	memberships := make([]models.Membership, 0, capHint)
	for rows.Next() {
		var m models.Membership
		var userID sql.NullString
		if err := rows.Scan(&m.ID, &userID, &m.ProductID, &m.Email, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.UserID = userID.String
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("membership iteration failed: %w", err)
	}
	return memberships, nil
}
