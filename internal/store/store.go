// Package store provides the on-device durable store backing the sync
// engine: entity records, the pending-mutation queue, hard-delete
// tombstones, per-workspace sync metadata, and an ancillary cache-stats
// table.
//
// The database is embedded SQLite (ncruces/go-sqlite3) opened with WAL
// mode for concurrent readers, a busy timeout, and foreign keys enabled.
// One database file exists per (user, workspace) identity; the session
// gate derives the path and tears the file down on identity switch.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"database/sql"
)

// Store wraps the SQLite connection with the sync-engine schema.
type Store struct {
	conn *sql.DB
	path string

	subsMu sync.RWMutex
	subs   map[int]chan Change
	nextID int
}

// Open creates or opens the store database at the given path.
//
// The parent directory is created if needed. The caller MUST call Close()
// when done; Close checkpoints the WAL so all changes land in the main
// database file.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		subs: make(map[int]chan Change),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	s.closeSubscribers()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the store schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	schema := `
	-- Entity records, one row per (kind, id). Domain fields live in the
	-- data column as opaque JSON; version is server-assigned.
	CREATE TABLE IF NOT EXISTS records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		data TEXT,
		deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		synced INTEGER NOT NULL DEFAULT 0,
		local_only INTEGER NOT NULL DEFAULT 0,
		local_deleted INTEGER NOT NULL DEFAULT 0,
		last_modified TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	-- Pending local mutations, coalesced to one row per entity.
	CREATE TABLE IF NOT EXISTS sync_queue (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT,
		expected_version INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		enqueued_at TEXT NOT NULL,
		next_retry_at TEXT,
		last_error TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		server_record TEXT,
		PRIMARY KEY (kind, id)
	);

	-- Versioned tombstones for hard deletes. A stale insert/update for a
	-- tombstoned id must not resurrect the record.
	CREATE TABLE IF NOT EXISTS tombstones (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	-- Per-workspace sync metadata (poll watermarks, device identity).
	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Ancillary cache statistics. Not part of the sync core.
	CREATE TABLE IF NOT EXISTS cache_stats (
		name TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0,
		misses INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_workspace ON records(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_records_workspace_kind ON records(workspace_id, kind);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return nil
}
