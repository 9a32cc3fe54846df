package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"curator/internal/logging"
)

// =============================================================================
// KNOWLEDGE VECTOR INDEX
// =============================================================================

// VectorMatch is one nearest-neighbor result: the cache key string of the
// entry and its cosine similarity to the probe (1.0 = identical direction).
type VectorMatch struct {
	CacheKey   string  `json:"cache_key"`
	Similarity float64 `json:"similarity"`
}

// UpsertVector stores the embedding for a cache entry, replacing any prior
// vector for the same key.
func (s *Store) UpsertVector(cacheKey, content string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("refusing to store empty embedding for %s", cacheKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO knowledge_vectors (cache_key, content, embedding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		cacheKey, content, encodeVector(embedding), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert vector for %s: %w", cacheKey, err)
	}
	return nil
}

// DeleteVector removes the embedding for a cache key, if present.
func (s *Store) DeleteVector(cacheKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM knowledge_vectors WHERE cache_key = ?`, cacheKey)
	return err
}

// DeleteVectorsMatching removes every vector whose cache key matches the
// glob pattern.
func (s *Store) DeleteVectorsMatching(pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM knowledge_vectors WHERE cache_key GLOB ?`, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vectors matching %q: %w", pattern, err)
	}
	return res.RowsAffected()
}

// Nearest returns the k most similar stored vectors to the probe, best first.
// Brute-force cosine over all rows; the vector table is small (one row per
// cache entry) so a linear scan stays well inside the gap analyzer's budget.
// Rows with a dimension mismatch are skipped, not fatal.
func (s *Store) Nearest(probe []float32, k int) ([]VectorMatch, error) {
	if len(probe) == 0 || k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT cache_key, embedding FROM knowledge_vectors`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var (
			key  string
			blob []byte
		)
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) != len(probe) {
			logging.StoreDebug("skipping vector %s: %v (dims %d vs %d)", key, err, len(vec), len(probe))
			continue
		}
		matches = append(matches, VectorMatch{CacheKey: key, Similarity: cosine(probe, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].CacheKey < matches[j].CacheKey
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// encodeVector packs float32s little-endian, 4 bytes each. Matches the
// sqlite-vec blob layout so the same rows serve the extension-backed path.
func encodeVector(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
