// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

/*
manager.go - Sync Manager Lifecycle and Orchestration

This file contains the core sync manager struct, initialization, and lifecycle
methods for orchestrating mirror synchronization from the upstream commerce
provider.

Lifecycle Methods:
  - NewManager(): Initialize manager with configuration and dependencies
  - Start(): Run the startup sweep and begin the periodic sync loop
  - Stop(): Gracefully shut down the loop and wait for completion
  - TriggerSync(): Manual sync execution (returns ErrSyncInProgress when busy)
  - LastSyncTime(): Query last successful sync timestamp

Thread Safety:
  - syncMu: Single-flight guard for sync execution. An overlapping periodic
    tick does not queue behind a running sweep; it is skipped and the tick
    is counted, so a slow upstream cannot build a backlog of sweeps.
  - mu: Protects shared state (running, lastSync)
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/logging"
	"github.com/merchdash/merchdash/internal/metrics"
)

// ErrSyncInProgress is returned by TriggerSync when a sweep is already
// running. Callers surface this as a conflict rather than waiting.
var ErrSyncInProgress = errors.New("sync already in progress")

// Manager orchestrates mirror synchronization from the upstream provider.
// One Manager owns both ingestion streams and runs them sequentially within
// a sweep: catalog first, then memberships, so membership rows referencing
// newly listed products find their catalog entries already mirrored.
type Manager struct {
	client   UpstreamClient
	store    Store
	cfg      *config.Config
	lastSync time.Time
	running  bool
	mu       stdsync.RWMutex
	syncMu   stdsync.Mutex // Single-flight guard for sweep execution
	stopChan chan struct{}
	wg       stdsync.WaitGroup
}

// NewManager creates a sync manager. The client and store are injected so
// tests can substitute mocks.
func NewManager(client UpstreamClient, store Store, cfg *config.Config) *Manager {
	return &Manager{
		client:   client,
		store:    store,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic synchronization process.
//
// A startup sweep runs in the background so a fresh deployment converges
// without waiting a full interval, then the loop ticks at the configured
// interval. Start does not block on the initial sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.mu.Unlock()

	logging.Info().Dur("interval", m.cfg.Sync.Interval).Msg("Starting sync manager...")

	// Add all goroutines to WaitGroup BEFORE starting them
	// This prevents Stop() from calling Wait() before all Add() calls complete
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		if err := m.runSweep(ctx); err != nil {
			logging.Warn().Err(err).Msg("Initial sync failed (will retry on next tick)")
		}
	}()

	go m.syncLoop(ctx)

	return nil
}

// Stop gracefully stops the synchronization process.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")

	close(m.stopChan)
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")

	return nil
}

// syncLoop runs the periodic synchronization.
func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			err := m.runSweep(ctx)
			switch {
			case errors.Is(err, ErrSyncInProgress):
				// The previous sweep is still running. Skip this tick
				// instead of queueing behind it.
				metrics.SyncTicksSkipped.Inc()
				logging.Warn().Msg("Sync still running, skipping tick")
			case err != nil:
				logging.Error().Err(err).Msg("Sync failed")
			}
		}
	}
}

// runSweep executes one full sweep (catalog then memberships) if no sweep is
// currently running. Returns ErrSyncInProgress otherwise.
func (m *Manager) runSweep(ctx context.Context) error {
	if !m.syncMu.TryLock() {
		return ErrSyncInProgress
	}
	defer m.syncMu.Unlock()

	if err := m.syncCatalog(ctx); err != nil {
		return err
	}
	if err := m.syncMemberships(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()

	return nil
}

// LastSyncTime returns the timestamp of the last fully successful sweep.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// TriggerSync manually triggers a synchronization sweep. It runs the sweep
// synchronously and returns ErrSyncInProgress without blocking when one is
// already underway.
func (m *Manager) TriggerSync(ctx context.Context) error {
	return m.runSweep(ctx)
}
