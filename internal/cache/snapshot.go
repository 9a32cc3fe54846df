package cache

import (
	"time"

	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// SnapshotEntry is the serializable form of one cache entry, used to carry
// the cache across restarts.
type SnapshotEntry struct {
	Key          Key                   `json:"key"`
	Result       *types.ResearchResult `json:"result"`
	CreatedAt    time.Time             `json:"created_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	QualityScore float64               `json:"quality_score"`
	Hits         uint64                `json:"hits"`
}

// Export snapshots every live entry.
func (s *Store) Export() []SnapshotEntry {
	now := time.Now()
	var out []SnapshotEntry
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, elem := range sh.entries {
			e := elem.Value.(*Entry)
			if e.expired(now) {
				continue
			}
			out = append(out, SnapshotEntry{
				Key:          e.Key,
				Result:       e.Result,
				CreatedAt:    e.CreatedAt,
				ExpiresAt:    e.ExpiresAt,
				QualityScore: e.QualityScore,
				Hits:         e.HitCount(),
			})
		}
		sh.mu.Unlock()
	}
	return out
}

// Restore loads snapshot entries, skipping anything already expired, and
// keeps hit counts so hit-rate history survives a restart. Returns the
// number restored.
func (s *Store) Restore(entries []SnapshotEntry) int {
	now := time.Now()
	restored := 0
	for _, snap := range entries {
		if snap.Result == nil {
			continue
		}
		if !snap.ExpiresAt.IsZero() && now.After(snap.ExpiresAt) {
			continue
		}
		entry := &Entry{
			Key:          snap.Key,
			Result:       snap.Result,
			CreatedAt:    snap.CreatedAt,
			ExpiresAt:    snap.ExpiresAt,
			SizeBytes:    snap.Result.SizeBytes(),
			QualityScore: snap.QualityScore,
		}
		entry.hitCount.Store(snap.Hits)

		ks := snap.Key.String()
		sh := s.shardFor(ks)
		sh.mu.Lock()
		if old, ok := sh.entries[ks]; ok {
			sh.removeLocked(ks, old)
		}
		elem := sh.lru.PushFront(entry)
		sh.entries[ks] = elem
		sh.bytes += entry.SizeBytes
		sh.index(entry, ks)
		for sh.bytes > sh.maxBytes && sh.lru.Len() > 1 {
			sh.evictOldestLocked()
		}
		sh.mu.Unlock()
		restored++
	}
	if restored > 0 {
		logging.Cache("restored %d entries from snapshot", restored)
	}
	return restored
}
