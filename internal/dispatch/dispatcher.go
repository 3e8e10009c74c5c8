// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package dispatch implements chunked fan-out of direct messages to the
// members of a catalog entry.
//
// A dispatch is synchronous: the caller gets the full accumulated outcome
// once every chunk has been processed. Recipients are streamed from the
// store in fixed-size chunks rather than materialized up front, and chunk
// boundaries are paced to respect upstream rate limits.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/logging"
	"github.com/merchdash/merchdash/internal/metrics"
	"github.com/merchdash/merchdash/internal/models"
	"github.com/merchdash/merchdash/internal/models/upstream"
)

// ErrEmptyMessage is returned when the message body is empty or whitespace.
// The check runs before any store or network access.
var ErrEmptyMessage = errors.New("message body must not be empty")

// MessageSender is the single upstream operation the dispatcher needs.
// Satisfied by sync.Client and sync.CircuitBreakerClient.
type MessageSender interface {
	SendMessage(ctx context.Context, userID, body string) (*upstream.SendResult, error)
}

// RecipientStore pages through the memberships of one catalog entry.
// Satisfied by *database.DB.
type RecipientStore interface {
	ListMembershipsByProduct(ctx context.Context, productID string, limit, offset int) ([]models.Membership, int, error)
}

// Dispatcher sends one message body to every member of a catalog entry.
type Dispatcher struct {
	sender MessageSender
	store  RecipientStore
	cfg    *config.DispatchConfig
}

// NewDispatcher creates a dispatcher. Sender and store are injected so tests
// can substitute mocks.
func NewDispatcher(sender MessageSender, store RecipientStore, cfg *config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		store:  store,
		cfg:    cfg,
	}
}

// sendResult is the per-recipient outcome, kept positional so the aggregate
// error list preserves processing order regardless of send concurrency.
type sendResult struct {
	success bool
	errMsg  string
}

// Dispatch sends body to every membership referencing productID.
//
// The outcome accounts for every recipient considered: recipients without a
// resolvable user id are counted as failures without a send attempt, and a
// transport failure on one send never cancels its siblings. SuccessCount
// plus ErrorCount always equals TotalProcessed on return.
//
// A context cancellation aborts between chunks and returns the partial
// outcome together with the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, productID, body string) (*models.DispatchOutcome, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}

	dispatchID := uuid.New().String()
	start := time.Now()
	outcome := &models.DispatchOutcome{Errors: []string{}}

	logging.Info().Str("dispatch_id", dispatchID).Str("product_id", productID).Msg("Starting dispatch")

	// The limiter starts with a full bucket, so the first chunk proceeds
	// immediately and each later chunk waits out the pacing delay. Nothing
	// waits after the final chunk.
	limiter := rate.NewLimiter(rate.Every(d.cfg.ChunkDelay), 1)

	offset := 0
	for {
		chunk, total, err := d.store.ListMembershipsByProduct(ctx, productID, d.cfg.ChunkSize, offset)
		if err != nil {
			return outcome, fmt.Errorf("failed to load recipients: %w", err)
		}

		if offset == 0 && total == 0 {
			outcome.Note = fmt.Sprintf("no recipients matched product %s", productID)
			logging.Info().Str("dispatch_id", dispatchID).Str("product_id", productID).Msg("Dispatch matched no recipients")
			return outcome, nil
		}
		if len(chunk) == 0 {
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			return outcome, err
		}

		metrics.DispatchChunkSize.Observe(float64(len(chunk)))
		results := d.processChunk(ctx, chunk, body)

		for _, r := range results {
			outcome.TotalProcessed++
			if r.success {
				outcome.SuccessCount++
			} else {
				outcome.ErrorCount++
				outcome.Errors = append(outcome.Errors, r.errMsg)
			}
		}

		offset += len(chunk)
		if len(chunk) < d.cfg.ChunkSize {
			break
		}
	}

	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("dispatch_id", dispatchID).
		Str("product_id", productID).
		Int("total", outcome.TotalProcessed).
		Int("success", outcome.SuccessCount).
		Int("errors", outcome.ErrorCount).
		Dur("duration", time.Since(start)).
		Msg("Dispatch complete")

	return outcome, nil
}

// processChunk sends to every recipient of one chunk with bounded
// concurrency and returns the per-recipient results in chunk order.
func (d *Dispatcher) processChunk(ctx context.Context, chunk []models.Membership, body string) []sendResult {
	results := make([]sendResult, len(chunk))

	parallelism := d.cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)

	var wg stdsync.WaitGroup
	for i := range chunk {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = d.sendToRecipient(ctx, &chunk[i], body)
		}(i)
	}
	wg.Wait()

	return results
}

// sendToRecipient delivers to a single membership. Memberships without a
// resolvable user never reach the upstream; they are failures by definition.
func (d *Dispatcher) sendToRecipient(ctx context.Context, m *models.Membership, body string) sendResult {
	if m.UserID == "" {
		metrics.DispatchSends.WithLabelValues("unresolved").Inc()
		return sendResult{errMsg: fmt.Sprintf("membership %s: no resolvable user", m.ID)}
	}

	result, err := d.sender.SendMessage(ctx, m.UserID, body)
	if err != nil {
		metrics.DispatchSends.WithLabelValues("failed").Inc()
		logging.Warn().Err(err).Str("membership_id", m.ID).Str("user_id", m.UserID).Msg("Send failed")
		return sendResult{errMsg: fmt.Sprintf("membership %s (user %s): %v", m.ID, m.UserID, err)}
	}
	if !result.Success {
		metrics.DispatchSends.WithLabelValues("failed").Inc()
		reason := result.Error
		if reason == "" {
			reason = "upstream rejected delivery"
		}
		return sendResult{errMsg: fmt.Sprintf("membership %s (user %s): %s", m.ID, m.UserID, reason)}
	}

	metrics.DispatchSends.WithLabelValues("success").Inc()
	return sendResult{success: true}
}
