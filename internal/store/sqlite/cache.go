package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/apmd/internal/cache"
)

// Compile-time interface guard.
var _ cache.Store = (*CacheStore)(nil)

// CacheStore implements cache.Store on the cache_entries table.
type CacheStore struct {
	db  *sql.DB
	now func() time.Time
}

// Get returns the value stored under key. Expired entries are reported as
// missing.
func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: get cache entry %q: %w", key, err)
	}

	exp, err := parseTimePtr(expiresAt)
	if err != nil {
		return nil, false, err
	}
	if exp != nil && !s.now().Before(*exp) {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key. A non-positive ttl means the entry never
// expires.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expiresAt sql.NullString
	if ttl > 0 {
		expiresAt = sql.NullString{String: formatTime(now.Add(ttl)), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expiresAt, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set cache entry %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite: delete cache entry %q: %w", key, err)
	}
	return nil
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (s *CacheStore) PurgeExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?",
		formatTime(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}
