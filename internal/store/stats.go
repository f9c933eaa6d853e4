package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheStat is one row of the ancillary cache_stats table.
type CacheStat struct {
	Name      string
	Hits      int64
	Misses    int64
	UpdatedAt time.Time
}

// BumpCacheStat increments the hit or miss counter for a named cache.
func (s *Store) BumpCacheStat(ctx context.Context, name string, hit bool) error {
	hits, misses := 0, 1
	if hit {
		hits, misses = 1, 0
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO cache_stats (name, hits, misses, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		hits = hits + excluded.hits,
		misses = misses + excluded.misses,
		updated_at = excluded.updated_at`,
		name, hits, misses, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to bump cache stat %q: %w", name, err)
	}
	return nil
}

// GetCacheStat returns the counters for a named cache, or nil if the cache
// has never been touched.
func (s *Store) GetCacheStat(ctx context.Context, name string) (*CacheStat, error) {
	var (
		stat      CacheStat
		updatedAt string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT name, hits, misses, updated_at FROM cache_stats WHERE name = ?`,
		name).Scan(&stat.Name, &stat.Hits, &stat.Misses, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache stat %q: %w", name, err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	stat.UpdatedAt = t
	return &stat, nil
}
