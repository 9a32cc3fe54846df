package cache

import (
	"fmt"
	"path"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// INVALIDATION
// =============================================================================

// Selector names the entries an invalidation targets. Exactly one of Pattern,
// Keys or Predicate should be set; they are checked in that order.
//
// Pattern forms:
//
//	"domain=rust"            one dimension, index-backed
//	"research_type=learning" one dimension, index-backed
//	"audience=beginner"      one dimension, index-backed
//	"abc123:*"               glob over the canonical key string
type Selector struct {
	Pattern   string
	Keys      []Key
	Predicate func(*Entry) bool
}

func (s Selector) validate() error {
	set := 0
	if s.Pattern != "" {
		set++
	}
	if len(s.Keys) > 0 {
		set++
	}
	if s.Predicate != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("invalidation selector must set exactly one of pattern, keys, predicate (got %d)", set)
	}
	return nil
}

// InvalidationReport records what an invalidation did, or in dry-run mode,
// what it would do.
type InvalidationReport struct {
	Matched    []Key `json:"matched"`
	Removed    int   `json:"removed"`
	BytesFreed int64 `json:"bytes_freed"`
	DryRun     bool  `json:"dry_run"`
}

// Invalidate removes the selected entries. With dryRun the report lists what
// would go without mutating anything. This is the cache's only administrative
// mutation path; the pipeline facade gates it behind admin permission before
// it ever reaches here.
func (s *Store) Invalidate(sel Selector, dryRun bool) (*InvalidationReport, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}

	report := &InvalidationReport{DryRun: dryRun}
	now := time.Now()

	for _, sh := range s.shards {
		sh.mu.Lock()
		for ks := range sh.selectorCandidates(sel) {
			elem, ok := sh.entries[ks]
			if !ok {
				continue
			}
			entry := elem.Value.(*Entry)
			if entry.expired(now) || !sel.matches(entry) {
				continue
			}
			report.Matched = append(report.Matched, entry.Key)
			report.BytesFreed += entry.SizeBytes
			if !dryRun {
				sh.removeLocked(ks, elem)
				report.Removed++
			}
		}
		sh.mu.Unlock()
	}

	if dryRun {
		logging.Cache("invalidation dry run matched %d entries (%d bytes)", len(report.Matched), report.BytesFreed)
	} else {
		logging.Cache("invalidated %d entries (%d bytes freed)", report.Removed, report.BytesFreed)
	}
	return report, nil
}

// selectorCandidates narrows the scan for dimension patterns and explicit key
// lists; predicates and glob patterns walk the whole shard.
func (sh *shard) selectorCandidates(sel Selector) map[string]struct{} {
	if len(sel.Keys) > 0 {
		out := make(map[string]struct{}, len(sel.Keys))
		for _, k := range sel.Keys {
			out[k.String()] = struct{}{}
		}
		return out
	}
	if dim, value, ok := dimensionPattern(sel.Pattern); ok {
		switch dim {
		case "domain":
			return sh.byDomain[value]
		case "research_type":
			return sh.byType[types.ResearchType(value)]
		case "audience":
			return sh.byAudience[types.AudienceLevel(value)]
		}
	}
	all := make(map[string]struct{}, len(sh.entries))
	for ks := range sh.entries {
		all[ks] = struct{}{}
	}
	return all
}

func (sel Selector) matches(e *Entry) bool {
	switch {
	case sel.Predicate != nil:
		return sel.Predicate(e)
	case len(sel.Keys) > 0:
		return true // candidate set already restricted to the listed keys
	case sel.Pattern != "":
		if dim, value, ok := dimensionPattern(sel.Pattern); ok {
			switch dim {
			case "domain":
				return e.Key.Domain == value
			case "research_type":
				return string(e.Key.ResearchType) == value
			case "audience":
				return string(e.Key.Audience) == value
			}
			return false
		}
		matched, err := path.Match(sel.Pattern, e.Key.String())
		return err == nil && matched
	}
	return false
}

// dimensionPattern parses "dim=value" selectors.
func dimensionPattern(pattern string) (dim, value string, ok bool) {
	dim, value, found := strings.Cut(pattern, "=")
	if !found || dim == "" || value == "" || strings.ContainsAny(pattern, "*?[") {
		return "", "", false
	}
	return dim, strings.ToLower(value), true
}
