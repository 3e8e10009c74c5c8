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
)

// retryWithBackoff executes a function with exponential backoff on failure.
// The context is used for cancellation during backoff waits.
// If the context is canceled during a wait, the function returns immediately with the context error.
func (m *Manager) retryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	delay := m.cfg.Sync.RetryDelay

	for attempt := 0; attempt < m.cfg.Sync.RetryAttempts; attempt++ {
		// Check context before attempting operation
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}

		if attempt < m.cfg.Sync.RetryAttempts-1 {
			logging.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", m.cfg.Sync.RetryAttempts).Dur("delay", delay).Msg("Retry attempt")
			// Use cancellable wait instead of time.Sleep
			select {
			case <-time.After(delay):
				// Continue to next attempt
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// stringToPtr converts a non-empty string to a pointer, returns nil for empty strings
func stringToPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
