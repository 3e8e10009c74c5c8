// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package main is the entry point for the Merchdash server application.
//
// Merchdash mirrors a commerce provider's product catalog and membership
// roster into a local DuckDB store and dispatches direct messages to the
// members of a product in rate-limited batches.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Database: Initialize DuckDB and create the mirror schema
//  3. Upstream Client: HTTP client for the provider API, optionally wrapped
//     in a circuit breaker
//  4. Sync Manager: Periodic page-by-page mirror sweeps with resumable cursors
//  5. Dispatcher: Chunked, paced message delivery to product members
//  6. HTTP Server: REST API for the mirrored data, dispatch, and operations
//
// All long-running components run under a suture supervisor tree so a crash
// in the sweep loop cannot take down the API layer.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// Required settings:
//   - UPSTREAM_BASE_URL: Provider API base URL
//   - UPSTREAM_TOKEN: Bearer token for the provider API
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Stops the sync manager and closes the database
//
// # Example Usage
//
//	export UPSTREAM_BASE_URL=https://api.example.com/v2
//	export UPSTREAM_TOKEN=your-api-token
//	export DUCKDB_PATH=/data/merchdash.db
//	./merchdash
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/merchdash/merchdash/internal/api"
	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/database"
	"github.com/merchdash/merchdash/internal/dispatch"
	"github.com/merchdash/merchdash/internal/logging"
	"github.com/merchdash/merchdash/internal/supervisor"
	"github.com/merchdash/merchdash/internal/supervisor/services"
	"github.com/merchdash/merchdash/internal/sync"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Merchdash with supervisor tree")
	logging.Info().
		Str("upstream_url", cfg.Upstream.BaseURL).
		Str("db_path", cfg.Database.Path).
		Dur("sync_interval", cfg.Sync.Interval).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Circuit breaker prevents hammering the provider while it is down.
	var client sync.UpstreamClient
	if cfg.Upstream.CircuitBreaker {
		client = sync.NewCircuitBreakerClient(&cfg.Upstream)
	} else {
		client = sync.NewClient(&cfg.Upstream)
	}
	if err := client.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Failed to reach upstream API (will retry)")
	} else {
		logging.Info().Msg("Connected to upstream API successfully")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Sync manager is started by the supervisor, not here
	syncManager := sync.NewManager(client, db, cfg)

	dispatcher := dispatch.NewDispatcher(client, db, &cfg.Dispatch)
	logging.Info().
		Int("chunk_size", cfg.Dispatch.ChunkSize).
		Dur("chunk_delay", cfg.Dispatch.ChunkDelay).
		Int("parallelism", cfg.Dispatch.Parallelism).
		Msg("Dispatcher initialized")

	handler := api.NewHandler(db, syncManager, dispatcher, cfg.API.DefaultPageSize, cfg.API.MaxPageSize)
	router := api.NewRouter(handler, &cfg.Security)

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (RATE_LIMIT_DISABLED=true)")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree.AddSyncService(services.NewSyncService(syncManager))
	logging.Info().Msg("Sync manager added to supervisor tree")

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel until the supervisor finishes
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
