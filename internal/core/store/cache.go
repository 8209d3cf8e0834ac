package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reelsync/reelsync/internal/core"
)

// GetCached returns a cached value if it is still valid. Entries past their
// TTL read as absent and are evicted; entries holding unparseable JSON are
// treated the same way.
func (s *Store) GetCached(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, errors.New("cache key is required")
	}

	var (
		value     string
		storedAt  int64
		expiresAt int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT value, stored_at, expires_at
		FROM cache_entries
		WHERE key = ?
	`, key)

	if err := row.Scan(&value, &storedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch cached value: %w", err)
	}

	if s.now().Unix() >= expiresAt {
		_, _ = s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	if !json.Valid([]byte(value)) {
		_, _ = s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	return json.RawMessage(value), true, nil
}

// SetCached stores a value with a TTL, replacing any existing entry.
func (s *Store) SetCached(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if ttl <= 0 || value == nil {
		return nil
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cache key is required")
	}

	now := s.now()
	expires := now.Add(ttl)

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, key, string(value), now.Unix(), expires.Unix())
	if err != nil {
		return fmt.Errorf("store cached value: %w", err)
	}

	return nil
}

// DeleteCached removes one entry.
func (s *Store) DeleteCached(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, strings.TrimSpace(key))
	if err != nil {
		return fmt.Errorf("delete cached value: %w", err)
	}
	return nil
}

// ClearCache removes all entries unconditionally and returns the count.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return removed, nil
}

// SweepExpired removes every entry past its TTL and returns the count.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep expired cache: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired cache: %w", err)
	}
	return removed, nil
}

// CacheStats summarizes the cache table: total entries, how many are already
// past their TTL, and the oldest stored_at.
func (s *Store) CacheStats(ctx context.Context) (*core.CacheStats, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		entries int
		expired int
		oldest  sql.NullInt64
	)

	now := s.now().Unix()
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		       MIN(stored_at)
		FROM cache_entries
	`, now)

	if err := row.Scan(&entries, &expired, &oldest); err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	stats := &core.CacheStats{Entries: entries, Expired: expired}
	if oldest.Valid {
		value := time.Unix(oldest.Int64, 0).UTC()
		stats.OldestStoredAt = &value
	}

	return stats, nil
}
