// Package sqlite persists the job queue and the shared cache in a single
// SQLite database. It uses modernc.org/sqlite (pure Go, no CGO) in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// DB is an open apmd database.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	jobs   *JobStore
	cache  *CacheStore
}

// Open opens (creating if needed) the database described by cfg and migrates
// its schema. The caller must Close the returned DB.
//
// The pool is limited to a single connection since SQLite serialises writes
// and PRAGMAs are per connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Defaults("")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("sqlite database opened", "path", cfg.Path, "wal", cfg.walEnabled())

	return &DB{
		db:     db,
		path:   cfg.Path,
		logger: logger,
		jobs:   &JobStore{db: db},
		cache:  &CacheStore{db: db, now: time.Now},
	}, nil
}

// Jobs returns the job.Store backed by this database.
func (d *DB) Jobs() *JobStore { return d.jobs }

// Cache returns the cache.Store backed by this database.
func (d *DB) Cache() *CacheStore { return d.cache }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Stop implements core.Stopper.
func (d *DB) Stop(_ context.Context) error {
	d.logger.Info("sqlite database closing", "path", d.path)
	return d.Close()
}

// timeLayout is fixed width so that stored timestamps order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
