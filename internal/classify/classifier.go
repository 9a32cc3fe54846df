// Package classify turns raw research queries into classified requests: a
// research type plus audience, domain and urgency dimensions with a composite
// confidence. Classification never fails and never blocks the pipeline; when
// the advanced signal path overruns its time budget the keyword baseline is
// used instead.
package classify

import (
	"context"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classifier is the full classification pipeline: keyword baseline plus
// signal detectors composed under a hard time budget.
type Classifier struct {
	cfg       config.ClassifierConfig
	basic     *BasicClassifier
	detectors []SignalDetector
	composer  composer
}

// New builds a classifier with the default detector set.
func New(cfg config.ClassifierConfig) *Classifier {
	return NewWithDetectors(cfg,
		newAudienceDetector(),
		newDomainDetector(),
		newUrgencyDetector(),
	)
}

// NewWithDetectors builds a classifier with an explicit detector set. Used by
// tests to inject slow or failing detectors.
func NewWithDetectors(cfg config.ClassifierConfig, detectors ...SignalDetector) *Classifier {
	return &Classifier{
		cfg:       cfg,
		basic:     NewBasicClassifier(),
		detectors: detectors,
		composer:  composer{cfg: cfg},
	}
}

// Classify never fails: on an empty query, a detector error, or a blown time
// budget it degrades to the baseline (and ultimately to a zero-confidence
// implementation default) rather than returning an error.
func (c *Classifier) Classify(ctx context.Context, query string, hints *types.ContextHints) *types.ClassifiedRequest {
	timer := logging.StartTimer(logging.CategoryClassify, "classify")
	defer timer.Stop()

	if strings.TrimSpace(query) == "" {
		logging.ClassifyDebug("empty query, returning low-confidence default")
		return fallbackRequest(query, hints)
	}

	base := c.basic.Classify(query)

	budget := time.Duration(c.cfg.AdvancedBudgetMs) * time.Millisecond
	signals, ok := c.detectSignals(ctx, budget, query, hints)
	if !ok {
		// Budget blown or a detector failed: the baseline type stands but the
		// composite confidence is zeroed, since the signal path never
		// validated it.
		logging.Classify("advanced classification degraded to baseline for %q (type=%s)",
			truncate(query, 60), base.ResearchType)
		base.Confidence = 0.0
		return c.composer.compose(query, hints, base, nil)
	}

	req := c.composer.compose(query, hints, base, signals)
	logging.ClassifyDebug("classified %q: type=%s audience=%s domain=%s urgency=%s conf=%.2f",
		truncate(query, 60), req.ResearchType, req.Audience, req.Domain, req.Urgency, req.Confidence)
	return req
}

// ClassifyContext runs only the context detectors (audience, domain) under
// the shorter context budget. Used when a caller already knows the research
// type and only needs the dimensional hints resolved.
func (c *Classifier) ClassifyContext(ctx context.Context, query string, hints *types.ContextHints) (audience types.AudienceLevel, domain string) {
	budget := time.Duration(c.cfg.ContextBudgetMs) * time.Millisecond
	signals, ok := c.detectSignals(ctx, budget, query, hints)
	if !ok {
		return types.AudienceIntermediate, "general"
	}
	audience = types.AudienceIntermediate
	domain = "general"
	if s, found := signals["audience"]; found {
		audience = types.ParseAudienceLevel(s.Label)
	}
	if s, found := signals["domain"]; found {
		domain = s.Label
	}
	return audience, domain
}

// detectSignals runs every detector under one shared budget. Detectors run in
// a separate goroutine so a stuck detector cannot hold the caller past the
// budget; the goroutine observes ctx and unwinds on its own.
func (c *Classifier) detectSignals(ctx context.Context, budget time.Duration, query string, hints *types.ContextHints) (map[string]Signal, bool) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		signals map[string]Signal
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		signals := make(map[string]Signal, len(c.detectors))
		for _, d := range c.detectors {
			sig, err := d.Detect(ctx, query, hints)
			if err != nil {
				done <- outcome{err: err}
				return
			}
			signals[d.Name()] = sig
		}
		done <- outcome{signals: signals}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			logging.ClassifyDebug("signal detection failed: %v", out.err)
			return nil, false
		}
		return out.signals, true
	case <-ctx.Done():
		return nil, false
	}
}

func fallbackRequest(query string, hints *types.ContextHints) *types.ClassifiedRequest {
	return &types.ClassifiedRequest{
		RawQuery:     query,
		ResearchType: types.ResearchImplementation,
		Audience:     types.AudienceIntermediate,
		Domain:       "general",
		Urgency:      types.UrgencyMedium,
		Confidence:   0.0,
		Hints:        hints,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
