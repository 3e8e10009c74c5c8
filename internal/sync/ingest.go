// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/merchdash/merchdash/internal/logging"
	"github.com/merchdash/merchdash/internal/metrics"
	"github.com/merchdash/merchdash/internal/models"
	"github.com/merchdash/merchdash/internal/models/upstream"
)

// Stream identifiers for the per-stream sync cursors.
const (
	StreamProducts    = "products"
	StreamMemberships = "memberships"
)

// Store is the persistence surface the ingestion loop writes to.
// Implemented by *database.DB.
type Store interface {
	// GetCursor returns the last committed page for a stream. found is false
	// when the stream has never committed a page.
	GetCursor(ctx context.Context, stream string) (page int, found bool, err error)
	SetCursor(ctx context.Context, stream string, page int) error

	// UpsertCatalogEntries writes one page of catalog records. It isolates
	// per-record failures: applied reports how many records were written, and
	// a non-nil error aggregates the records that were not.
	UpsertCatalogEntries(ctx context.Context, entries []models.CatalogEntry) (applied int, err error)

	// UpsertMemberships writes one page of membership records with the same
	// per-record isolation. newByProduct counts newly inserted rows per
	// referenced product id, for the active-user aggregate.
	UpsertMemberships(ctx context.Context, memberships []models.Membership) (applied int, newByProduct map[string]int, err error)

	// IncrementActiveUsers adds the given deltas to the active_users
	// aggregate of existing catalog entries. Unknown product ids are ignored.
	IncrementActiveUsers(ctx context.Context, deltas map[string]int) error
}

// pageWrite is the deferred write half of one fetched page. The sweep loop
// fetches first, checks the reported page count, and only then writes.
type pageWrite struct {
	totalPages int
	count      int
	write      func(ctx context.Context) (applied, skipped int, err error)
}

// syncCatalog mirrors the product catalog stream.
func (m *Manager) syncCatalog(ctx context.Context) error {
	return m.sweep(ctx, StreamProducts, m.fetchCatalogWrite)
}

// syncMemberships mirrors the membership stream.
func (m *Manager) syncMemberships(ctx context.Context) error {
	return m.sweep(ctx, StreamMemberships, m.fetchMembershipWrite)
}

func (m *Manager) fetchCatalogWrite(ctx context.Context, page int) (*pageWrite, error) {
	var resp *upstream.CatalogPage
	err := m.retryWithBackoff(ctx, func() error {
		var fetchErr error
		resp, fetchErr = m.client.FetchCatalogPage(ctx, page)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	data := resp.Data
	return &pageWrite{
		totalPages: resp.TotalPages(),
		count:      len(data),
		write: func(ctx context.Context) (int, int, error) {
			entries := make([]models.CatalogEntry, 0, len(data))
			skipped := 0
			for i := range data {
				dto := &data[i]
				if dto.ID == "" {
					// No storage key; the record cannot be mirrored.
					skipped++
					continue
				}
				entries = append(entries, models.CatalogEntry{
					ID:      dto.ID,
					Title:   dto.Name,
					Visible: dto.Visible(),
				})
			}
			applied, err := m.store.UpsertCatalogEntries(ctx, entries)
			return applied, skipped, err
		},
	}, nil
}

func (m *Manager) fetchMembershipWrite(ctx context.Context, page int) (*pageWrite, error) {
	var resp *upstream.MembershipPage
	err := m.retryWithBackoff(ctx, func() error {
		var fetchErr error
		resp, fetchErr = m.client.FetchMembershipPage(ctx, page)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	data := resp.Data
	return &pageWrite{
		totalPages: resp.TotalPages(),
		count:      len(data),
		write: func(ctx context.Context) (int, int, error) {
			memberships := make([]models.Membership, 0, len(data))
			skipped := 0
			for i := range data {
				dto := &data[i]
				if dto.ID == "" {
					skipped++
					continue
				}
				memberships = append(memberships, models.Membership{
					ID:        dto.ID,
					UserID:    dto.User,
					ProductID: stringToPtr(dto.Product),
					Email:     stringToPtr(dto.Email),
					Status:    dto.Status,
				})
			}
			applied, newByProduct, err := m.store.UpsertMemberships(ctx, memberships)
			if len(newByProduct) > 0 {
				if incErr := m.store.IncrementActiveUsers(ctx, newByProduct); incErr != nil {
					metrics.DBQueryErrors.WithLabelValues("increment_active_users").Inc()
					logging.Error().Err(incErr).Msg("Failed to update active user aggregate")
				}
			}
			return applied, skipped, err
		},
	}, nil
}

// sweep runs one full catch-up pass over a single stream.
//
// The cursor records the last fully committed page: the sweep resumes at
// cursor+1 and advances the cursor only after the page's records are written.
// A fetch failure aborts the sweep with the cursor untouched, so the failed
// page is retried on the next sweep. A page whose records all fail to write
// likewise aborts without advancing; partial write failures are logged and
// the cursor still advances past the page.
//
// When the stream has no cursor yet and the sweep commits nothing (an empty
// upstream dataset), the cursor is initialized to zero so later sweeps start
// from the beginning without re-probing for a missing row.
func (m *Manager) sweep(ctx context.Context, stream string, fetch func(context.Context, int) (*pageWrite, error)) error {
	start := time.Now()

	lastPage, found, err := m.store.GetCursor(ctx, stream)
	if err != nil {
		metrics.SyncErrors.WithLabelValues(stream, "cursor").Inc()
		return fmt.Errorf("read cursor for %s: %w", stream, err)
	}
	noPrior := !found

	page := lastPage + 1
	committed := 0

	logging.Debug().Str("stream", stream).Int("start_page", page).Msg("Starting sweep")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pw, err := fetch(ctx, page)
		if err != nil {
			metrics.SyncErrors.WithLabelValues(stream, "fetch").Inc()
			return fmt.Errorf("fetch %s page %d: %w", stream, page, err)
		}

		// The page count comes from the freshest response, so a dataset that
		// shrinks mid-sweep ends the sweep early rather than fetching pages
		// that no longer exist.
		if page > pw.totalPages {
			break
		}

		applied, skipped, err := pw.write(ctx)
		if skipped > 0 {
			metrics.SyncRecordsSkipped.WithLabelValues(stream).Add(float64(skipped))
			logging.Warn().Str("stream", stream).Int("page", page).Int("skipped", skipped).Msg("Skipped records without identifiers")
		}
		if err != nil {
			if applied == 0 && pw.count > skipped {
				// Nothing from this page landed; leave the cursor so the
				// whole page is retried next sweep.
				metrics.SyncErrors.WithLabelValues(stream, "write").Inc()
				return fmt.Errorf("write %s page %d: %w", stream, page, err)
			}
			logging.Warn().Err(err).Str("stream", stream).Int("page", page).Int("applied", applied).Msg("Partial page write")
		}
		metrics.SyncRecordsUpserted.WithLabelValues(stream).Add(float64(applied))

		if err := m.store.SetCursor(ctx, stream, page); err != nil {
			metrics.SyncErrors.WithLabelValues(stream, "cursor").Inc()
			return fmt.Errorf("advance cursor for %s to page %d: %w", stream, page, err)
		}
		metrics.SyncPagesCommitted.WithLabelValues(stream).Inc()
		committed++

		if page >= pw.totalPages {
			break
		}
		page++

		// Pace page fetches so a large catch-up does not hammer the upstream.
		select {
		case <-time.After(m.cfg.Sync.PageDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if noPrior && committed == 0 {
		if err := m.store.SetCursor(ctx, stream, 0); err != nil {
			metrics.SyncErrors.WithLabelValues(stream, "cursor").Inc()
			return fmt.Errorf("initialize cursor for %s: %w", stream, err)
		}
	}

	metrics.RecordSweep(stream, time.Since(start))
	logging.Info().Str("stream", stream).Int("pages_committed", committed).Dur("duration", time.Since(start)).Msg("Sweep complete")

	return nil
}
