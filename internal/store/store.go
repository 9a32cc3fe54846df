// Package store owns SQLite persistence for curator: scheduler task state,
// the notification delivery log, and the knowledge vector index used for
// semantic gap refinement. The scheduler is the only writer of task rows; no
// other component touches them directly.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"curator/internal/logging"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New opens (creating if needed) the database at path and applies the schema.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	logging.Store("opening database at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection avoids SQLITE_BUSY storms under the modernc driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("schema initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		fingerprint  TEXT NOT NULL,
		source       TEXT NOT NULL,
		state        TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		score        REAL NOT NULL DEFAULT 0,
		enqueued_at  INTEGER NOT NULL,
		completed_at INTEGER,
		payload      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	CREATE INDEX IF NOT EXISTS idx_tasks_fingerprint ON tasks(fingerprint);

	CREATE TABLE IF NOT EXISTS deliveries (
		task_id    TEXT NOT NULL,
		channel    TEXT NOT NULL,
		kind       TEXT NOT NULL,
		attempts   INTEGER NOT NULL,
		delivered  INTEGER NOT NULL,
		last_error TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, channel)
	);

	CREATE TABLE IF NOT EXISTS knowledge_vectors (
		cache_key  TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache_snapshot (
		key        TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	logging.StoreDebug("closing database at %s", s.dbPath)
	return s.db.Close()
}
