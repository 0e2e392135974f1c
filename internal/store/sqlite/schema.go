package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
		id                   TEXT    NOT NULL UNIQUE,
		name                 TEXT    NOT NULL,
		description          TEXT    NOT NULL DEFAULT '',
		payload              TEXT    NOT NULL DEFAULT '{}',
		state                TEXT    NOT NULL,
		scheduled_at         TEXT    NOT NULL,
		next_retry_at        TEXT,
		last_run_at          TEXT,
		completed_runs       INTEGER NOT NULL DEFAULT 0,
		max_attempts         INTEGER NOT NULL DEFAULT 1,
		secs_between_retries INTEGER NOT NULL DEFAULT 5
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(state, next_retry_at)`,

	`CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at TEXT,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
