package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// GetRecord returns the record for (kind, id), or nil if absent.
func (s *Store) GetRecord(ctx context.Context, kind model.Kind, id string) (*model.Record, error) {
	query := `
	SELECT kind, id, workspace_id, version, data, deleted, deleted_at,
	       synced, local_only, local_deleted, last_modified
	FROM records WHERE kind = ? AND id = ?`

	row := s.conn.QueryRowContext(ctx, query, string(kind), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", kind, id, err)
	}
	return rec, nil
}

// PutRecord inserts or replaces a record and notifies live subscribers.
//
// Replacement is whole-record last-write-wins at this layer: all conflict
// logic runs upstream in the reconciler before PutRecord is called. The
// upsert is a single statement, so a failed put cannot leave the row half
// written or touch unrelated records.
func (s *Store) PutRecord(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if rec.LastModified.IsZero() {
		rec.LastModified = time.Now()
	}

	query := `
	INSERT INTO records (
		kind, id, workspace_id, version, data, deleted, deleted_at,
		synced, local_only, local_deleted, last_modified
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind, id) DO UPDATE SET
		workspace_id = excluded.workspace_id,
		version = excluded.version,
		data = excluded.data,
		deleted = excluded.deleted,
		deleted_at = excluded.deleted_at,
		synced = excluded.synced,
		local_only = excluded.local_only,
		local_deleted = excluded.local_deleted,
		last_modified = excluded.last_modified
	`

	_, err := s.conn.ExecContext(ctx, query,
		string(rec.Kind),
		rec.ID,
		rec.WorkspaceID,
		rec.Version,
		nullableString(string(rec.Data)),
		boolToInt(rec.Deleted),
		timeToNullString(rec.DeletedAt),
		boolToInt(rec.Synced),
		boolToInt(rec.LocalOnly),
		boolToInt(rec.LocalDeleted),
		rec.LastModified.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", rec.Kind, rec.ID, err)
	}

	s.notify(Change{Kind: rec.Kind, ID: rec.ID, Op: ChangePut})
	return nil
}

// SetRecordVersion updates only the version counter of a record, leaving
// every other field alone. This is the reconciler's "pending local edit
// wins, but keep the fence current" path.
func (s *Store) SetRecordVersion(ctx context.Context, kind model.Kind, id string, version int64) error {
	query := `UPDATE records SET version = ? WHERE kind = ? AND id = ?`
	res, err := s.conn.ExecContext(ctx, query, version, string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to set version for %s/%s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s/%s not found", kind, id)
	}
	s.notify(Change{Kind: kind, ID: id, Op: ChangePut})
	return nil
}

// HardDeleteRecord removes a record entirely and writes a versioned
// tombstone in the same transaction, so a crash between the two cannot
// lose the no-resurrection guarantee.
//
// tombstoneVersion should be the delete event's version when the server
// sent one, otherwise the record's last known local version. Idempotent:
// deleting an absent record still records the tombstone.
func (s *Store) HardDeleteRecord(ctx context.Context, kind model.Kind, id string, tombstoneVersion int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", kind, id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (kind, id, version, deleted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			version = MAX(version, excluded.version),
			deleted_at = excluded.deleted_at
	`, string(kind), id, tombstoneVersion, time.Now().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to write tombstone for %s/%s: %w", kind, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.notify(Change{Kind: kind, ID: id, Op: ChangeDelete})
	return nil
}

// TombstoneVersion returns the tombstone version for (kind, id), or 0 if
// the id has never been hard-deleted.
func (s *Store) TombstoneVersion(ctx context.Context, kind model.Kind, id string) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT version FROM tombstones WHERE kind = ? AND id = ?`,
		string(kind), id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query tombstone %s/%s: %w", kind, id, err)
	}
	return version, nil
}

// ClearTombstone removes a tombstone. Used when the server provably reuses
// an id with a version newer than the tombstone.
func (s *Store) ClearTombstone(ctx context.Context, kind model.Kind, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM tombstones WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
		return fmt.Errorf("failed to clear tombstone %s/%s: %w", kind, id, err)
	}
	return nil
}

// ListWorkspace returns all records in a workspace, optionally filtered to
// one kind (pass "" for all kinds). Soft-deleted records are included;
// callers that present to a user filter on Deleted themselves.
func (s *Store) ListWorkspace(ctx context.Context, workspaceID string, kind model.Kind) ([]*model.Record, error) {
	query := `
	SELECT kind, id, workspace_id, version, data, deleted, deleted_at,
	       synced, local_only, local_deleted, last_modified
	FROM records WHERE workspace_id = ?`
	args := []any{workspaceID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.Record, error) {
	var (
		rec          model.Record
		kind         string
		data         sql.NullString
		deletedAt    sql.NullString
		deleted      int
		synced       int
		localOnly    int
		localDeleted int
		lastModified string
	)
	err := row.Scan(&kind, &rec.ID, &rec.WorkspaceID, &rec.Version, &data,
		&deleted, &deletedAt, &synced, &localOnly, &localDeleted, &lastModified)
	if err != nil {
		return nil, err
	}

	rec.Kind = model.Kind(kind)
	if data.Valid && data.String != "" {
		rec.Data = []byte(data.String)
	}
	rec.Deleted = deleted != 0
	rec.Synced = synced != 0
	rec.LocalOnly = localOnly != 0
	rec.LocalDeleted = localDeleted != 0
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid deleted_at %q: %w", deletedAt.String, err)
		}
		rec.DeletedAt = &t
	}
	t, err := time.Parse(time.RFC3339Nano, lastModified)
	if err != nil {
		return nil, fmt.Errorf("invalid last_modified %q: %w", lastModified, err)
	}
	rec.LastModified = t

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeToNullString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
