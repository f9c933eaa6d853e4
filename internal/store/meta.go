package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMeta returns the value for a sync_meta key, or "" if unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a sync_meta key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %q: %w", key, err)
	}
	return nil
}

func watermarkKey(workspaceID string) string {
	return "watermark:" + workspaceID
}

// GetWatermark returns the last successfully processed poll timestamp for a
// workspace. The zero time means the workspace has never completed a poll.
func (s *Store) GetWatermark(ctx context.Context, workspaceID string) (time.Time, error) {
	value, err := s.GetMeta(ctx, watermarkKey(workspaceID))
	if err != nil || value == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark %q: %w", value, err)
	}
	return t, nil
}

// SetWatermark advances the poll watermark for a workspace. The poller only
// calls this after a batch is fully processed, so a crash mid-batch
// re-fetches the same batch instead of skipping it.
func (s *Store) SetWatermark(ctx context.Context, workspaceID string, t time.Time) error {
	return s.SetMeta(ctx, watermarkKey(workspaceID), t.Format(time.RFC3339Nano))
}
