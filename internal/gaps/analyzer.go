// Package gaps detects knowledge gaps in a project tree: locations the
// knowledge cache should cover but does not. Pattern heuristics run first and
// cheap; optional semantic refinement against cached knowledge trims false
// positives. A single unreadable file never aborts a scan.
package gaps

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// LocationIndex lists project locations that cached knowledge claims to
// cover. Used for orphan detection; a nil index skips it.
type LocationIndex interface {
	KnownLocations() []string
}

// Analyzer scans for knowledge gaps.
type Analyzer struct {
	cfg    config.GapsConfig
	rules  []HeuristicRule
	search SimilaritySearch // optional, nil disables semantic refinement
	exts   map[string]bool
	skip   map[string]bool
}

// NewAnalyzer builds an analyzer. search may be nil.
func NewAnalyzer(cfg config.GapsConfig, search SimilaritySearch) (*Analyzer, error) {
	rules, err := loadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	exts := make(map[string]bool, len(cfg.IncludeExtensions))
	for _, e := range cfg.IncludeExtensions {
		exts[e] = true
	}
	skip := make(map[string]bool, len(cfg.ExcludeDirs))
	for _, d := range cfg.ExcludeDirs {
		skip[d] = true
	}
	return &Analyzer{cfg: cfg, rules: rules, search: search, exts: exts, skip: skip}, nil
}

// Scan walks root, running pattern checks file-by-file in parallel, then
// orphan detection against the knowledge index, then semantic refinement.
// Individual file failures are logged and skipped.
func (a *Analyzer) Scan(ctx context.Context, root string, knowledge LocationIndex) ([]*types.KnowledgeGap, error) {
	timer := logging.StartTimer(logging.CategoryGaps, "Scan")
	defer timer.Stop()

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Get(logging.CategoryGaps).Warn("walk error at %s: %v (skipping)", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if a.skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if a.exts[filepath.Ext(path)] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	var (
		mu   sync.Mutex
		gaps []*types.KnowledgeGap
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			found, err := a.analyzeFile(gctx, root, path)
			if err != nil {
				// Per-file failures never abort the scan.
				logging.Get(logging.CategoryGaps).Warn("analysis failed for %s: %v (skipping)", path, err)
				return nil
			}
			if len(found) > 0 {
				mu.Lock()
				gaps = append(gaps, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	gaps = append(gaps, a.orphanGaps(root, knowledge)...)

	// Deterministic output order regardless of worker interleaving.
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Location != gaps[j].Location {
			return gaps[i].Location < gaps[j].Location
		}
		return gaps[i].Line < gaps[j].Line
	})

	gaps = a.refine(ctx, gaps)
	logging.Gaps("scan of %s: %d files, %d gaps", root, len(files), len(gaps))
	return gaps, nil
}

// OnFileChanged is the incremental path for file-watch integration: analyze
// just the changed file. A deleted file yields no gaps.
func (a *Analyzer) OnFileChanged(ctx context.Context, root, path string) ([]*types.KnowledgeGap, error) {
	if !a.exts[filepath.Ext(path)] {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	gaps, err := a.analyzeFile(ctx, root, path)
	if err != nil {
		return nil, err
	}
	return a.refine(ctx, gaps), nil
}

// analyzeFile runs the rule set and the doc-comment check over one file,
// bounded by the per-file budget.
func (a *Analyzer) analyzeFile(ctx context.Context, root, path string) ([]*types.KnowledgeGap, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.PerFileBudget.Std())
	defer cancel()

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > a.cfg.MaxFileSizeBytes {
		logging.GapsDebug("skipping %s: %d bytes over limit", path, info.Size())
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	location := relPath(root, path)
	ext := filepath.Ext(path)
	now := time.Now()

	var gaps []*types.KnowledgeGap
	var prevLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("per-file budget exceeded: %w", err)
			}
		}
		line := scanner.Text()

		for i := range a.rules {
			rule := &a.rules[i]
			if !rule.appliesTo(ext) {
				continue
			}
			if rule.re.MatchString(line) {
				gaps = append(gaps, &types.KnowledgeGap{
					ID:           uuid.New(),
					Location:     location,
					Line:         lineNo,
					GapType:      types.GapType(rule.GapType),
					Reason:       rule.Reason,
					DetectedAt:   now,
					BasePriority: rule.BasePriority,
				})
			}
		}

		if ext == ".go" {
			if gap := undocumentedExport(location, lineNo, prevLine, line, now); gap != nil {
				gaps = append(gaps, gap)
			}
		}
		prevLine = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return gaps, nil
}

// undocumentedExport flags exported Go declarations with no doc comment on
// the preceding line. Heuristic, not a parser: good enough to seed research
// tasks, cheap enough for the scan budget.
func undocumentedExport(location string, lineNo int, prev, line string, now time.Time) *types.KnowledgeGap {
	trimmed := strings.TrimSpace(line)
	exported := false
	switch {
	case strings.HasPrefix(trimmed, "func "):
		rest := strings.TrimPrefix(trimmed, "func ")
		if strings.HasPrefix(rest, "(") {
			// Method: skip past the receiver.
			if idx := strings.Index(rest, ") "); idx >= 0 {
				rest = rest[idx+2:]
			}
		}
		exported = startsUpper(rest)
	case strings.HasPrefix(trimmed, "type "):
		exported = startsUpper(strings.TrimPrefix(trimmed, "type "))
	}
	if !exported {
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(prev), "//") {
		return nil
	}
	return &types.KnowledgeGap{
		ID:           uuid.New(),
		Location:     location,
		Line:         lineNo,
		GapType:      types.GapMissing,
		Reason:       "undocumented_export",
		DetectedAt:   now,
		BasePriority: 6,
	}
}

func startsUpper(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

// orphanGaps flags knowledge entries whose claimed project location no longer
// exists on disk.
func (a *Analyzer) orphanGaps(root string, knowledge LocationIndex) []*types.KnowledgeGap {
	if knowledge == nil {
		return nil
	}
	now := time.Now()
	var gaps []*types.KnowledgeGap
	for _, location := range knowledge.KnownLocations() {
		if location == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, location)); os.IsNotExist(err) {
			gaps = append(gaps, &types.KnowledgeGap{
				ID:           uuid.New(),
				Location:     location,
				GapType:      types.GapOrphaned,
				Reason:       "source_removed",
				DetectedAt:   now,
				BasePriority: 4,
			})
		}
	}
	return gaps
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
