// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods for the
// catalog mirror, the membership mirror, and the per-stream sync cursors.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the database file and initializes the schema.
//
// The open is retried with exponential backoff up to cfg.ConnectAttempts so
// a deployment where the data volume mounts slightly after the process
// starts converges instead of crash-looping. Exhausting the attempts is
// fatal to the caller.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	// Ensure parent directory exists for the database file
	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network environments
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := openWithRetry(connStr, cfg.ConnectAttempts, cfg.ConnectDelay)
	if err != nil {
		return nil, err
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}

	db.configureConnectionPool()

	if err := db.initSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// openWithRetry opens and pings the database, retrying transient failures
// with exponential backoff (delay, 2*delay, 4*delay, ...).
func openWithRetry(connStr string, attempts int, delay time.Duration) (*sql.DB, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := delay * time.Duration(1<<uint(attempt-1))
			logging.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", backoff).Msg("Database open failed, retrying")
			time.Sleep(backoff)
		}

		conn, err := sql.Open("duckdb", connStr)
		if err != nil {
			lastErr = fmt.Errorf("failed to open database: %w", err)
			continue
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = conn.PingContext(pingCtx)
		cancel()
		if err != nil {
			closeQuietly(conn)
			lastErr = fmt.Errorf("failed to ping database: %w", err)
			continue
		}

		return conn, nil
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}

// configureConnectionPool tunes the sql.DB pool for DuckDB's embedded model.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initSchema creates the mirror tables when they do not exist yet.
//
// active_users is a stored aggregate rather than a COUNT over memberships:
// it is seeded to zero on first insert and only ever incremented by
// membership ingestion, so catalog refreshes never disturb it.
func (db *DB) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS catalog_entries (
			id VARCHAR PRIMARY KEY,
			title VARCHAR NOT NULL,
			visible BOOLEAN NOT NULL DEFAULT false,
			active_users INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR,
			product_id VARCHAR,
			email VARCHAR,
			status VARCHAR NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			stream VARCHAR PRIMARY KEY,
			page INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_product ON memberships (product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships (user_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	logging.Info().Msg("Closing database connection")
	return db.conn.Close()
}

// Conn returns the underlying SQL database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// closeQuietly closes a resource ignoring errors, for cleanup paths where
// the original error is the one worth reporting.
func closeQuietly(c interface{ Close() error }) {
	_ = c.Close()
}
