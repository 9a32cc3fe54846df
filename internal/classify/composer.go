package classify

import (
	"sort"

	"curator/internal/config"
	"curator/internal/types"
)

// composer combines the baseline candidate with the detector signals into the
// final classified request. Pure function of its inputs.
type composer struct {
	cfg config.ClassifierConfig
}

// compose applies the configured boosts to the baseline confidence:
// urgency-laden requests get the urgency multiplier, beginner-audience
// requests the beginner multiplier, a confidently detected domain the domain
// multiplier. When the strongest signal sits below the low-confidence
// threshold the penalty multiplier pulls the composite down instead.
func (c *composer) compose(query string, hints *types.ContextHints, base Candidate, signals map[string]Signal) *types.ClassifiedRequest {
	req := &types.ClassifiedRequest{
		RawQuery:        query,
		ResearchType:    base.ResearchType,
		Audience:        types.AudienceIntermediate,
		Domain:          "general",
		Urgency:         types.UrgencyMedium,
		Confidence:      base.Confidence,
		MatchedKeywords: append([]string(nil), base.Matched...),
		Hints:           hints,
	}

	strongest := base.Confidence

	if s, ok := signals["audience"]; ok {
		req.Audience = types.ParseAudienceLevel(s.Label)
		if s.Confidence > strongest {
			strongest = s.Confidence
		}
		if req.Audience == types.AudienceBeginner && s.Confidence > 0 {
			req.Confidence *= c.cfg.BeginnerBoost
		}
		req.MatchedKeywords = append(req.MatchedKeywords, s.Matched...)
	}

	if s, ok := signals["domain"]; ok {
		req.Domain = s.Label
		if s.Confidence > strongest {
			strongest = s.Confidence
		}
		if s.Label != "general" && s.Confidence > 0 {
			req.Confidence *= c.cfg.DomainBoost
		}
		req.MatchedKeywords = append(req.MatchedKeywords, s.Matched...)
	}

	if s, ok := signals["urgency"]; ok {
		req.Urgency = types.ParseUrgencyLevel(s.Label)
		if s.Confidence > strongest {
			strongest = s.Confidence
		}
		if req.Urgency.Rank() >= types.UrgencyHigh.Rank() && s.Confidence > 0 {
			req.Confidence *= c.cfg.UrgencyBoost
		}
		req.MatchedKeywords = append(req.MatchedKeywords, s.Matched...)
	}

	if strongest < c.cfg.LowConfidenceThreshold {
		req.Confidence *= c.cfg.LowConfidencePenalty
	}
	if req.Confidence > 1.0 {
		req.Confidence = 1.0
	}

	sort.Strings(req.MatchedKeywords)
	req.MatchedKeywords = dedupe(req.MatchedKeywords)
	return req
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
