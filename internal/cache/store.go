// Package cache implements the knowledge cache: an in-memory, sharded,
// TTL-aware LRU store keyed by multi-dimensional cache keys, with
// per-dimension indexes so invalidation can target slices ("everything for
// domain=rust") without a full scan.
package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// ENTRIES
// =============================================================================

// Entry is one cached research result. Owned exclusively by the store;
// callers must treat returned entries as read-only. HitCount is atomic so the
// read path never takes a write lock for it; lost increments under race are
// acceptable.
type Entry struct {
	Key          Key                   `json:"key"`
	Result       *types.ResearchResult `json:"result"`
	CreatedAt    time.Time             `json:"created_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	SizeBytes    int64                 `json:"size_bytes"`
	QualityScore float64               `json:"quality_score"`

	hitCount atomic.Uint64
}

// HitCount returns the best-effort read counter.
func (e *Entry) HitCount() uint64 { return e.hitCount.Load() }

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of cache health.
type Stats struct {
	EntryCount int     `json:"entry_count"`
	SizeBytes  int64   `json:"size_bytes"`
	HitRate    float64 `json:"hit_rate"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
	Expired    uint64  `json:"expired"`
}

// =============================================================================
// SHARDED STORE
// =============================================================================

const shardCount = 16

// Store is the cache. Sharded by key hash so writes to different keys do not
// contend on one lock; operations on a single key are linearizable under that
// key's shard lock.
type Store struct {
	cfg    config.CacheConfig
	shards [shardCount]*shard

	hits    atomic.Uint64
	misses  atomic.Uint64
	stopped chan struct{}
	stop    sync.Once
}

type shard struct {
	mu       sync.Mutex
	entries  map[string]*list.Element // key string -> element holding *Entry
	lru      *list.List               // front = most recently used
	bytes    int64
	maxBytes int64

	// Per-dimension secondary indexes, key-string sets.
	byType     map[types.ResearchType]map[string]struct{}
	byAudience map[types.AudienceLevel]map[string]struct{}
	byDomain   map[string]map[string]struct{}

	evictions atomic.Uint64
	expired   atomic.Uint64
}

// New builds a store with the configured byte budget split across shards.
func New(cfg config.CacheConfig) *Store {
	s := &Store{cfg: cfg, stopped: make(chan struct{})}
	perShard := cfg.MaxSizeBytes / shardCount
	if perShard < 1 {
		perShard = 1
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			entries:    make(map[string]*list.Element),
			lru:        list.New(),
			maxBytes:   perShard,
			byType:     make(map[types.ResearchType]map[string]struct{}),
			byAudience: make(map[types.AudienceLevel]map[string]struct{}),
			byDomain:   make(map[string]map[string]struct{}),
		}
	}
	return s
}

// Start launches the background TTL sweep. A zero sweep interval disables it;
// expiry is still enforced lazily on read.
func (s *Store) Start(ctx context.Context) {
	if s.cfg.SweepInterval.Std() <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			case <-ticker.C:
				removed := s.sweep(time.Now())
				if removed > 0 {
					logging.CacheDebug("ttl sweep removed %d entries", removed)
				}
			}
		}
	}()
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.stop.Do(func() { close(s.stopped) })
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns the live entry for key, if any. Expired entries are removed on
// sight. A hit refreshes LRU recency and bumps the hit counter.
func (s *Store) Get(key Key) (*Entry, bool) {
	ks := key.String()
	sh := s.shardFor(ks)

	sh.mu.Lock()
	elem, ok := sh.entries[ks]
	if !ok {
		sh.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if entry.expired(time.Now()) {
		sh.removeLocked(ks, elem)
		sh.expired.Add(1)
		sh.mu.Unlock()
		s.misses.Add(1)
		logging.CacheDebug("lazy expiry evicted %s", ks)
		return nil, false
	}
	sh.lru.MoveToFront(elem)
	sh.mu.Unlock()

	entry.hitCount.Add(1)
	s.hits.Add(1)
	return entry, true
}

// Put stores a result under key. A zero ttl takes the configured default.
// Storing over an existing key replaces it in place, preserving nothing from
// the old entry. Size pressure evicts least-recently-used entries from the
// key's shard until the budget holds.
func (s *Store) Put(key Key, result *types.ResearchResult, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL.Std()
	}
	now := time.Now()
	entry := &Entry{
		Key:          key,
		Result:       result,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		SizeBytes:    result.SizeBytes(),
		QualityScore: result.QualityScore,
	}

	ks := key.String()
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

	logging.CacheDebug("stored %s (%d bytes, ttl %s)", ks, entry.SizeBytes, ttl)
	return entry
}

// Search returns live entries matching the filter, leaning on the dimension
// indexes where the filter allows.
func (s *Store) Search(filter Filter) []*Entry {
	now := time.Now()
	var out []*Entry
	for _, sh := range s.shards {
		sh.mu.Lock()
		for ks := range sh.candidateSet(filter) {
			elem, ok := sh.entries[ks]
			if !ok {
				continue
			}
			entry := elem.Value.(*Entry)
			if entry.expired(now) {
				continue
			}
			if filter.matches(entry) {
				out = append(out, entry)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Stats aggregates across shards.
func (s *Store) Stats() Stats {
	st := Stats{Hits: s.hits.Load(), Misses: s.misses.Load()}
	for _, sh := range s.shards {
		sh.mu.Lock()
		st.EntryCount += len(sh.entries)
		st.SizeBytes += sh.bytes
		sh.mu.Unlock()
		st.Evictions += sh.evictions.Load()
		st.Expired += sh.expired.Load()
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// sweep removes expired entries in every shard. Returns the removal count.
func (s *Store) sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for ks, elem := range sh.entries {
			if elem.Value.(*Entry).expired(now) {
				sh.removeLocked(ks, elem)
				sh.expired.Add(1)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// =============================================================================
// SHARD INTERNALS (callers hold sh.mu)
// =============================================================================

func (sh *shard) index(e *Entry, ks string) {
	addToIndex(sh.byType, e.Key.ResearchType, ks)
	addToIndex(sh.byAudience, e.Key.Audience, ks)
	addToIndex(sh.byDomain, e.Key.Domain, ks)
}

func (sh *shard) unindex(e *Entry, ks string) {
	dropFromIndex(sh.byType, e.Key.ResearchType, ks)
	dropFromIndex(sh.byAudience, e.Key.Audience, ks)
	dropFromIndex(sh.byDomain, e.Key.Domain, ks)
}

func (sh *shard) removeLocked(ks string, elem *list.Element) {
	entry := elem.Value.(*Entry)
	sh.lru.Remove(elem)
	delete(sh.entries, ks)
	sh.bytes -= entry.SizeBytes
	sh.unindex(entry, ks)
}

func (sh *shard) evictOldestLocked() {
	elem := sh.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*Entry)
	sh.removeLocked(entry.Key.String(), elem)
	sh.evictions.Add(1)
}

// candidateSet narrows the scan using the most selective available index, or
// falls back to every key in the shard.
func (sh *shard) candidateSet(f Filter) map[string]struct{} {
	switch {
	case f.Domain != "":
		return sh.byDomain[f.Domain]
	case f.ResearchType != "":
		return sh.byType[f.ResearchType]
	case f.Audience != "":
		return sh.byAudience[f.Audience]
	}
	all := make(map[string]struct{}, len(sh.entries))
	for ks := range sh.entries {
		all[ks] = struct{}{}
	}
	return all
}

func addToIndex[K comparable](idx map[K]map[string]struct{}, k K, ks string) {
	set, ok := idx[k]
	if !ok {
		set = make(map[string]struct{})
		idx[k] = set
	}
	set[ks] = struct{}{}
}

func dropFromIndex[K comparable](idx map[K]map[string]struct{}, k K, ks string) {
	if set, ok := idx[k]; ok {
		delete(set, ks)
		if len(set) == 0 {
			delete(idx, k)
		}
	}
}

// Filter selects entries by dimension. Zero values match everything.
type Filter struct {
	ResearchType types.ResearchType
	Audience     types.AudienceLevel
	Domain       string
	MinQuality   float64
}

func (f Filter) matches(e *Entry) bool {
	if f.ResearchType != "" && e.Key.ResearchType != f.ResearchType {
		return false
	}
	if f.Audience != "" && e.Key.Audience != f.Audience {
		return false
	}
	if f.Domain != "" && e.Key.Domain != f.Domain {
		return false
	}
	if f.MinQuality > 0 && e.QualityScore < f.MinQuality {
		return false
	}
	return true
}
