// Package sqlite provides the SQLite-backed projection store.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path. Enables WAL mode
// and a 5-second busy timeout, and runs idempotent migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Current view of projections, deduped by projection_id.
		`CREATE TABLE IF NOT EXISTS projections (
			projection_id TEXT PRIMARY KEY,
			league_id     TEXT NOT NULL,
			league_name   TEXT NOT NULL DEFAULT '',
			player_id     TEXT NOT NULL DEFAULT '',
			player_name   TEXT NOT NULL DEFAULT '',
			team          TEXT NOT NULL DEFAULT '',
			stat_type     TEXT NOT NULL DEFAULT '',
			line_score    REAL NOT NULL,
			start_time    INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'unknown',
			fetched_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			raw           BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proj_status_start ON projections(status, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_proj_league ON projections(league_id)`,
		`CREATE INDEX IF NOT EXISTS idx_proj_updated ON projections(updated_at)`,

		// Append-only audit of changed snapshots.
		`CREATE TABLE IF NOT EXISTS projection_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			projection_id TEXT NOT NULL,
			snapshot_at   INTEGER NOT NULL,
			raw           BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hist_proj ON projection_history(projection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_hist_at ON projection_history(snapshot_at)`,

		// League lookup controlling which leagues ingestion walks.
		`CREATE TABLE IF NOT EXISTS leagues (
			league_id   TEXT PRIMARY KEY,
			league_name TEXT NOT NULL DEFAULT '',
			active      BOOLEAN NOT NULL DEFAULT 1
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
