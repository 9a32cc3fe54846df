package gaps

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"curator/internal/types"
)

// =============================================================================
// HEURISTIC RULES
// =============================================================================

// HeuristicRule flags lines matching a pattern as knowledge gaps. Rules are
// data, not code: operators extend the built-in set with a YAML file.
type HeuristicRule struct {
	Name         string   `yaml:"name"`
	Pattern      string   `yaml:"pattern"`
	GapType      string   `yaml:"gap_type"`
	Reason       string   `yaml:"reason"`
	BasePriority int      `yaml:"base_priority"`
	Extensions   []string `yaml:"extensions,omitempty"`

	re   *regexp.Regexp
	exts map[string]bool
}

type rulesFile struct {
	Rules []HeuristicRule `yaml:"rules"`
}

// compile validates and prepares the rule for matching.
func (r *HeuristicRule) compile() error {
	if r.Name == "" || r.Pattern == "" {
		return fmt.Errorf("rule needs a name and a pattern")
	}
	if !types.GapType(r.GapType).Valid() {
		return fmt.Errorf("rule %s: unknown gap type %q", r.Name, r.GapType)
	}
	if r.BasePriority < 1 || r.BasePriority > 10 {
		return fmt.Errorf("rule %s: base_priority must be 1-10, got %d", r.Name, r.BasePriority)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: bad pattern: %w", r.Name, err)
	}
	r.re = re
	if len(r.Extensions) > 0 {
		r.exts = make(map[string]bool, len(r.Extensions))
		for _, ext := range r.Extensions {
			r.exts[ext] = true
		}
	}
	if r.Reason == "" {
		r.Reason = r.Name
	}
	return nil
}

func (r *HeuristicRule) appliesTo(ext string) bool {
	return r.exts == nil || r.exts[ext]
}

// builtinRules returns the default rule set. Base priorities follow the rough
// urgency ladder: missing API docs worst, configuration gaps mildest.
func builtinRules() []HeuristicRule {
	return []HeuristicRule{
		{
			Name:         "todo_comment",
			Pattern:      `(?i)\b(TODO|FIXME|HACK|XXX)\b[:\s]`,
			GapType:      string(types.GapMissing),
			Reason:       "todo_comment",
			BasePriority: 7,
		},
		{
			Name:         "api_endpoint",
			Pattern:      `(HandleFunc|\.GET\(|\.POST\(|\.PUT\(|\.DELETE\(|@app\.route|#\[(get|post|put|delete)\()`,
			GapType:      string(types.GapMissing),
			Reason:       "undocumented_api_endpoint",
			BasePriority: 9,
		},
		{
			Name:         "panics_without_context",
			Pattern:      `(panic\(|\.unwrap\(\)|\.expect\()`,
			GapType:      string(types.GapLowConfidence),
			Reason:       "failure_path_undocumented",
			BasePriority: 5,
			Extensions:   []string{".go", ".rs"},
		},
		{
			Name:         "deprecated_marker",
			Pattern:      `(?i)\bdeprecated\b`,
			GapType:      string(types.GapOutdated),
			Reason:       "deprecated_marker",
			BasePriority: 6,
		},
	}
}

// loadRules returns the built-in rules plus any from the YAML file at path
// (empty path means builtins only).
func loadRules(path string) ([]HeuristicRule, error) {
	rules := builtinRules()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		var extra rulesFile
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
		}
		rules = append(rules, extra.Rules...)
	}

	for i := range rules {
		if err := rules[i].compile(); err != nil {
			return nil, err
		}
	}
	return rules, nil
}
