// Package db provides the embedded SQLite store backing the action
// queue and the photo cache.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps sql.DB with PhotoNest-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the PhotoNest database in dataDir, creating it if needed.
// The database is opened with WAL mode and foreign key constraints, and
// limited to a single writer (SQLite constraint).
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "photonest.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	wrapped := &DB{db}
	if err := wrapped.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

// initSchema applies the schema idempotently.
func (db *DB) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS action_queue (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			target        TEXT NOT NULL,
			payload       TEXT NOT NULL,
			status        TEXT NOT NULL,
			attempts      INTEGER NOT NULL DEFAULT 0,
			next_retry_at INTEGER NOT NULL DEFAULT 0,
			last_error    TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_action_queue_target ON action_queue(type, target);`,
		`CREATE TABLE IF NOT EXISTS photo_cache (
			path          TEXT PRIMARY KEY,
			thumbnail     BLOB,
			metadata      TEXT NOT NULL,
			cached_at     INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_photo_cache_last_accessed ON photo_cache(last_accessed);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
