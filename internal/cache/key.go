package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"curator/internal/types"
)

// =============================================================================
// CACHE KEYS
// =============================================================================

// Key identifies one cache entry across five dimensions. Keys are derived,
// never constructed ad hoc: two semantically identical requests must map to
// the same key, which is what makes the cache useful at all.
type Key struct {
	TopicHash    string              `json:"topic_hash"`
	ResearchType types.ResearchType  `json:"research_type"`
	Audience     types.AudienceLevel `json:"audience"`
	Domain       string              `json:"domain"`
	ContextHash  string              `json:"context_hash"`
}

// String renders the key in its canonical colon-joined form, used as the map
// key and for pattern matching during invalidation.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		k.TopicHash, k.ResearchType, k.Audience, k.Domain, k.ContextHash)
}

// KeyFor derives the cache key for a classified request. Pure and
// order-independent: hint ordering, casing and punctuation do not affect the
// result.
func KeyFor(req *types.ClassifiedRequest) Key {
	return Key{
		TopicHash:    shortHash(normalizeTopic(req.RawQuery)),
		ResearchType: req.ResearchType,
		Audience:     req.Audience,
		Domain:       strings.ToLower(req.Domain),
		ContextHash:  contextHash(req.Hints),
	}
}

// normalizeTopic lowercases, strips punctuation and collapses whitespace so
// "How do I X?" and "how do i x" share a topic hash.
func normalizeTopic(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// contextHash folds the hint dimensions into one hash. Each slice is
// lowercased and sorted first so the hash is order-independent.
func contextHash(hints *types.ContextHints) string {
	if hints == nil {
		return shortHash("")
	}
	var parts []string
	for prefix, values := range map[string][]string{
		"lang": hints.Languages,
		"fw":   hints.Frameworks,
		"tag":  hints.Tags,
	} {
		for _, v := range values {
			parts = append(parts, prefix+"="+strings.ToLower(strings.TrimSpace(v)))
		}
	}
	sort.Strings(parts)
	return shortHash(strings.Join(parts, "\x00"))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
