package gaps

import (
	"context"

	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// SEMANTIC REFINEMENT
// =============================================================================

// Match is one nearest-neighbor hit against cached knowledge.
type Match struct {
	CacheKey   string
	Similarity float64
}

// SimilaritySearch finds cached knowledge semantically near a text. Backed by
// the embedding engine plus the vector index; absent (nil) the analyzer runs
// pattern-only.
type SimilaritySearch interface {
	Nearest(ctx context.Context, text string, k int) ([]Match, error)
}

// refine drops gaps the cache already covers and downgrades near-misses to
// low confidence. Lookups run in batches; any search failure leaves the
// batch's gaps as the pattern pass found them, since a broken embedding
// backend must not suppress gap detection.
func (a *Analyzer) refine(ctx context.Context, gaps []*types.KnowledgeGap) []*types.KnowledgeGap {
	if a.search == nil || len(gaps) == 0 {
		return gaps
	}
	timer := logging.StartTimer(logging.CategoryGaps, "refine")
	defer timer.Stop()

	kept := gaps[:0]
	dropped := 0
	for start := 0; start < len(gaps); start += a.cfg.SemanticBatchSize {
		end := start + a.cfg.SemanticBatchSize
		if end > len(gaps) {
			end = len(gaps)
		}
		for _, gap := range gaps[start:end] {
			matches, err := a.search.Nearest(ctx, gap.Query(), 1)
			if err != nil {
				logging.GapsDebug("semantic lookup failed for %s: %v (keeping gap)", gap.Location, err)
				kept = append(kept, gap)
				continue
			}
			if len(matches) == 0 {
				kept = append(kept, gap)
				continue
			}
			sim := matches[0].Similarity
			gap.SemanticScore = &sim
			switch {
			case sim >= a.cfg.DropThreshold:
				// Already covered by cached knowledge.
				dropped++
			case sim >= a.cfg.SimilarityThreshold:
				gap.GapType = types.GapLowConfidence
				kept = append(kept, gap)
			default:
				kept = append(kept, gap)
			}
		}
	}
	if dropped > 0 {
		logging.Gaps("semantic refinement dropped %d already-covered gaps", dropped)
	}
	return kept
}
