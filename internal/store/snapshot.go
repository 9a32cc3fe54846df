package store

import (
	"fmt"
	"time"

	"curator/internal/logging"
)

// =============================================================================
// CACHE SNAPSHOT
// =============================================================================

// CacheRow is one persisted cache entry: the canonical key string plus the
// cache layer's serialized form. The store treats the payload as opaque.
type CacheRow struct {
	Key       string
	Payload   []byte
	ExpiresAt time.Time
}

// SaveCacheSnapshot atomically replaces the persisted snapshot.
func (s *Store) SaveCacheSnapshot(rows []CacheRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache_snapshot`); err != nil {
		return fmt.Errorf("failed to clear cache snapshot: %w", err)
	}
	for _, row := range rows {
		_, err := tx.Exec(`
			INSERT INTO cache_snapshot (key, payload, expires_at) VALUES (?, ?, ?)`,
			row.Key, string(row.Payload), row.ExpiresAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to persist snapshot row %s: %w", row.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache snapshot: %w", err)
	}
	logging.Store("persisted cache snapshot (%d entries)", len(rows))
	return nil
}

// LoadCacheSnapshot returns the persisted snapshot, dropping rows that
// expired while the process was down.
func (s *Store) LoadCacheSnapshot() ([]CacheRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, payload, expires_at FROM cache_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache snapshot: %w", err)
	}
	defer rows.Close()

	cutoff := time.Now().UnixMilli()
	var out []CacheRow
	for rows.Next() {
		var (
			row       CacheRow
			payload   string
			expiresAt int64
		)
		if err := rows.Scan(&row.Key, &payload, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt > 0 && expiresAt < cutoff {
			continue
		}
		row.Payload = []byte(payload)
		row.ExpiresAt = time.UnixMilli(expiresAt)
		out = append(out, row)
	}
	return out, rows.Err()
}
