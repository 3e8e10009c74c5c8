// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package services

import (
	"context"
	"fmt"
)

// StartStopManager interface matches the internal/sync.Manager lifecycle.
//
// This interface abstracts the mirror manager's Start/Stop pattern, allowing
// the SyncService wrapper to adapt it to suture's Serve pattern without
// modifying the manager code.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService wraps the mirror sweep manager as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the manager
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown
//
// The manager handles its own goroutines internally via WaitGroup, so this
// wrapper simply orchestrates the lifecycle transitions.
type SyncService struct {
	manager StartStopManager
	name    string
}

// NewSyncService creates a new sync service wrapper.
//
// Example usage:
//
//	manager := sync.NewManager(client, db, cfg)
//	svc := services.NewSyncService(manager)
//	tree.AddSyncService(svc)
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{
		manager: manager,
		name:    "sync-manager",
	}
}

// Serve implements suture.Service.
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *SyncService) Serve(ctx context.Context) error {
	// Start spawns the manager's internal goroutines and returns immediately
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	<-ctx.Done()

	// Stop blocks until the manager's goroutines complete
	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *SyncService) String() string {
	return s.name
}
