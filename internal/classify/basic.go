package classify

import (
	"sort"
	"strings"

	"curator/internal/types"
)

// Candidate is one research-type hypothesis with its score.
type Candidate struct {
	ResearchType types.ResearchType
	Confidence   float64
	Matched      []string
	priority     int
}

// BasicClassifier is the keyword-matching baseline. It is cheap, deterministic
// and always available; the advanced path degrades to it under time pressure.
type BasicClassifier struct {
	rules []*Rule
}

// NewBasicClassifier builds the baseline classifier with the default rule set.
func NewBasicClassifier() *BasicClassifier {
	return &BasicClassifier{rules: defaultResearchRules()}
}

// Candidates scores the query against every research-type rule and returns
// the hypotheses ordered best-first. Ties break on rule priority, then label,
// so the order is fully deterministic.
func (c *BasicClassifier) Candidates(query string) []Candidate {
	var out []Candidate
	for _, rule := range c.rules {
		conf := rule.Confidence(query)
		if conf <= 0 {
			continue
		}
		out = append(out, Candidate{
			ResearchType: types.ResearchType(rule.Label),
			Confidence:   conf,
			Matched:      rule.Matched(query),
			priority:     rule.Priority,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].ResearchType < out[j].ResearchType
	})
	return out
}

// Classify returns the best candidate, falling back to a zero-confidence
// implementation request when nothing matches. It never fails.
func (c *BasicClassifier) Classify(query string) Candidate {
	if strings.TrimSpace(query) == "" {
		return Candidate{ResearchType: types.ResearchImplementation, Confidence: 0}
	}
	candidates := c.Candidates(query)
	if len(candidates) == 0 {
		return Candidate{ResearchType: types.ResearchImplementation, Confidence: 0}
	}
	best := candidates[0]
	for _, rule := range c.rules {
		if rule.Label == string(best.ResearchType) && best.Confidence < rule.MinConfidence {
			return Candidate{ResearchType: types.ResearchImplementation, Confidence: 0}
		}
	}
	return best
}
