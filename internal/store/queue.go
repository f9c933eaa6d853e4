package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// GetQueueItem returns the queue item for (kind, id), or nil if none is
// pending, failed, or in conflict.
func (s *Store) GetQueueItem(ctx context.Context, kind model.Kind, id string) (*model.QueueItem, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT kind, id, operation, payload, expected_version, attempts,
	       enqueued_at, next_retry_at, last_error, status, server_record
	FROM sync_queue WHERE kind = ? AND id = ?`, string(kind), id)

	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s/%s: %w", kind, id, err)
	}
	return item, nil
}

// PutQueueItem inserts or replaces the queue item for its entity.
// The (kind, id) primary key is what enforces one pending item per entity.
func (s *Store) PutQueueItem(ctx context.Context, item *model.QueueItem) error {
	if !item.Operation.Valid() {
		return fmt.Errorf("invalid queue operation %q", item.Operation)
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	if item.Status == "" {
		item.Status = model.StatusPending
	}

	query := `
	INSERT INTO sync_queue (
		kind, id, operation, payload, expected_version, attempts,
		enqueued_at, next_retry_at, last_error, status, server_record
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind, id) DO UPDATE SET
		operation = excluded.operation,
		payload = excluded.payload,
		expected_version = excluded.expected_version,
		attempts = excluded.attempts,
		enqueued_at = excluded.enqueued_at,
		next_retry_at = excluded.next_retry_at,
		last_error = excluded.last_error,
		status = excluded.status,
		server_record = excluded.server_record
	`

	var nextRetry any
	if !item.NextRetryAt.IsZero() {
		nextRetry = item.NextRetryAt.Format(time.RFC3339Nano)
	}

	_, err := s.conn.ExecContext(ctx, query,
		string(item.Kind),
		item.EntityID,
		string(item.Operation),
		nullableString(string(item.Payload)),
		item.ExpectedVersion,
		item.Attempts,
		item.EnqueuedAt.Format(time.RFC3339Nano),
		nextRetry,
		nullableString(item.LastError),
		string(item.Status),
		nullableString(string(item.ServerRecord)),
	)
	if err != nil {
		return fmt.Errorf("failed to put queue item %s/%s: %w", item.Kind, item.EntityID, err)
	}
	return nil
}

// DeleteQueueItem removes a queue item. Idempotent.
func (s *Store) DeleteQueueItem(ctx context.Context, kind model.Kind, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
		return fmt.Errorf("failed to delete queue item %s/%s: %w", kind, id, err)
	}
	return nil
}

// ListQueue returns queue items with the given status in enqueue order.
func (s *Store) ListQueue(ctx context.Context, status model.QueueStatus) ([]*model.QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT kind, id, operation, payload, expected_version, attempts,
	       enqueued_at, next_retry_at, last_error, status, server_record
	FROM sync_queue WHERE status = ?
	ORDER BY enqueued_at, kind, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return items, nil
}

// CountQueue returns the number of queue items with the given status.
func (s *Store) CountQueue(ctx context.Context, status model.QueueStatus) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func scanQueueItem(row scanner) (*model.QueueItem, error) {
	var (
		item         model.QueueItem
		kind         string
		operation    string
		payload      sql.NullString
		enqueuedAt   string
		nextRetryAt  sql.NullString
		lastError    sql.NullString
		status       string
		serverRecord sql.NullString
	)
	err := row.Scan(&kind, &item.EntityID, &operation, &payload,
		&item.ExpectedVersion, &item.Attempts, &enqueuedAt, &nextRetryAt,
		&lastError, &status, &serverRecord)
	if err != nil {
		return nil, err
	}

	item.Kind = model.Kind(kind)
	item.Operation = model.Operation(operation)
	item.Status = model.QueueStatus(status)
	if payload.Valid && payload.String != "" {
		item.Payload = []byte(payload.String)
	}
	if lastError.Valid {
		item.LastError = lastError.String
	}
	if serverRecord.Valid && serverRecord.String != "" {
		item.ServerRecord = []byte(serverRecord.String)
	}
	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid enqueued_at %q: %w", enqueuedAt, err)
	}
	item.EnqueuedAt = t
	if nextRetryAt.Valid && nextRetryAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, nextRetryAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid next_retry_at %q: %w", nextRetryAt.String, err)
		}
		item.NextRetryAt = t
	}
	return &item, nil
}
