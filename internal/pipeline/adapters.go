package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"curator/internal/cache"
	"curator/internal/embedding"
	"curator/internal/gaps"
	"curator/internal/logging"
	"curator/internal/store"
	"curator/internal/types"
)

// =============================================================================
// ADAPTERS
// =============================================================================

// vectorSearch backs the gap analyzer's semantic refinement with the
// embedding engine and the persisted vector index.
type vectorSearch struct {
	engine  embedding.Engine
	vectors *store.Store
}

func (v *vectorSearch) Nearest(ctx context.Context, text string, k int) ([]gaps.Match, error) {
	emb, err := v.engine.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := v.vectors.Nearest(emb, k)
	if err != nil {
		return nil, err
	}
	out := make([]gaps.Match, len(matches))
	for i, m := range matches {
		out[i] = gaps.Match{CacheKey: m.CacheKey, Similarity: m.Similarity}
	}
	return out, nil
}

// cacheLocations exposes the source locations the cache already has knowledge
// about, for orphan detection.
type cacheLocations struct {
	knowledge *cache.Store
}

func (c cacheLocations) KnownLocations() []string {
	entries := c.knowledge.Search(cache.Filter{})
	var out []string
	seen := make(map[string]bool)
	for _, e := range entries {
		loc := e.Result.Metadata["location"]
		if loc != "" && !seen[loc] {
			seen[loc] = true
			out = append(out, loc)
		}
	}
	return out
}

// restoreCache reloads the persisted cache snapshot on startup.
func (p *Pipeline) restoreCache() {
	rows, err := p.store.LoadCacheSnapshot()
	if err != nil {
		logging.Get(logging.CategoryPipeline).Warn("cache snapshot load failed: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	entries := make([]cache.SnapshotEntry, 0, len(rows))
	for _, row := range rows {
		var entry cache.SnapshotEntry
		if err := json.Unmarshal(row.Payload, &entry); err != nil {
			logging.Get(logging.CategoryPipeline).Warn("corrupt snapshot row %s: %v (skipping)", row.Key, err)
			continue
		}
		entries = append(entries, entry)
	}
	p.knowledge.Restore(entries)
}

// snapshotCache persists the live cache on shutdown so the next process
// starts warm.
func (p *Pipeline) snapshotCache() {
	exported := p.knowledge.Export()
	rows := make([]store.CacheRow, 0, len(exported))
	for _, entry := range exported {
		payload, err := json.Marshal(entry)
		if err != nil {
			logging.Get(logging.CategoryPipeline).Warn("snapshot marshal failed for %s: %v", entry.Key, err)
			continue
		}
		rows = append(rows, store.CacheRow{
			Key:       entry.Key.String(),
			Payload:   payload,
			ExpiresAt: entry.ExpiresAt,
		})
	}
	if err := p.store.SaveCacheSnapshot(rows); err != nil {
		logging.Get(logging.CategoryPipeline).Error("cache snapshot save failed: %v", err)
	}
}

// indexResult embeds a completed research result and persists the vector
// under its cache key. Failures are logged and swallowed; indexing is an
// enrichment, never a gate on completion.
func (p *Pipeline) indexResult(key cache.Key, result *types.ResearchResult) {
	if p.engine == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text := result.Content
	if len(text) > 4096 {
		text = text[:4096]
	}
	emb, err := p.engine.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryPipeline).Warn("embedding failed for %s: %v", key, err)
		return
	}
	if err := p.store.UpsertVector(key.String(), text, emb); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("vector upsert failed for %s: %v", key, err)
		return
	}
	logging.PipelineDebug("indexed embedding for %s (%d dims)", key, len(emb))
}
