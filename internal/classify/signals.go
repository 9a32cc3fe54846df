package classify

import (
	"context"
	"strings"

	"curator/internal/types"
)

// =============================================================================
// SIGNAL DETECTORS
// =============================================================================

// Signal is one detector's verdict: a label with a confidence in [0,1].
type Signal struct {
	Label      string
	Confidence float64
	Matched    []string
}

// SignalDetector produces one axis of the advanced classification. Detectors
// must be deterministic for identical inputs; the ctx carries the time budget
// and a detector that overruns it should return ctx.Err().
type SignalDetector interface {
	Name() string
	Detect(ctx context.Context, query string, hints *types.ContextHints) (Signal, error)
}

// ruleDetector scores a query against a rule family and reports the best
// label. fallback is returned with zero confidence when nothing fires.
type ruleDetector struct {
	name     string
	rules    []*Rule
	fallback string
}

func (d *ruleDetector) Name() string { return d.name }

func (d *ruleDetector) Detect(ctx context.Context, query string, _ *types.ContextHints) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	best := Signal{Label: d.fallback}
	bestPriority := -1
	for _, rule := range d.rules {
		conf := rule.Confidence(query)
		if conf < rule.MinConfidence {
			continue
		}
		if conf > best.Confidence || (conf == best.Confidence && rule.Priority > bestPriority) {
			best = Signal{Label: rule.Label, Confidence: conf, Matched: rule.Matched(query)}
			bestPriority = rule.Priority
		}
	}
	return best, nil
}

// audienceDetector wraps the audience rule family. An explicit hint wins over
// any phrasing heuristic.
type audienceDetector struct {
	inner ruleDetector
}

func newAudienceDetector() *audienceDetector {
	return &audienceDetector{inner: ruleDetector{
		name:     "audience",
		rules:    defaultAudienceRules(),
		fallback: string(types.AudienceIntermediate),
	}}
}

func (d *audienceDetector) Name() string { return d.inner.name }

func (d *audienceDetector) Detect(ctx context.Context, query string, hints *types.ContextHints) (Signal, error) {
	if hints != nil && hints.PreferredAudience != "" {
		return Signal{Label: hints.PreferredAudience, Confidence: 1.0}, nil
	}
	return d.inner.Detect(ctx, query, hints)
}

// domainDetector wraps the domain rule family, folding hint languages and
// frameworks into the scored text so "tokio deadlock" with Languages=[rust]
// lands in the rust domain even when the query never says so.
type domainDetector struct {
	inner ruleDetector
}

func newDomainDetector() *domainDetector {
	return &domainDetector{inner: ruleDetector{
		name:     "domain",
		rules:    defaultDomainRules(),
		fallback: "general",
	}}
}

func (d *domainDetector) Name() string { return d.inner.name }

func (d *domainDetector) Detect(ctx context.Context, query string, hints *types.ContextHints) (Signal, error) {
	text := query
	if hints != nil {
		extra := append(append([]string(nil), hints.Languages...), hints.Frameworks...)
		if len(extra) > 0 {
			text = query + " " + strings.ToLower(strings.Join(extra, " "))
		}
	}
	return d.inner.Detect(ctx, text, hints)
}

// urgencyDetector wraps the urgency rule family. Medium is the fallback.
func newUrgencyDetector() *ruleDetector {
	return &ruleDetector{
		name:     "urgency",
		rules:    defaultUrgencyRules(),
		fallback: string(types.UrgencyMedium),
	}
}
