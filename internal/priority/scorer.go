// Package priority computes scheduling scores for research tasks as a
// weighted sum over staleness, impact, user preference and urgency. Weights
// come from configuration so operators retune without recompiling; scores are
// derived data, recomputed per scheduling cycle.
package priority

import (
	"math"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// Factor names used in the score breakdown.
const (
	FactorStaleness  = "staleness"
	FactorImpact     = "impact"
	FactorPreference = "preference"
	FactorUrgency    = "urgency"
)

// Scorer computes priority scores.
type Scorer struct {
	cfg config.PriorityConfig
	now func() time.Time
}

// NewScorer validates the weights and builds a scorer.
func NewScorer(cfg config.PriorityConfig) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, now: time.Now}, nil
}

// Score computes the task's priority with the per-factor breakdown preserved.
// Every factor is normalized to [0,1] before weighting, so the composite is
// also in [0,1].
func (s *Scorer) Score(task *types.ScheduledTask) types.PriorityScore {
	factors := map[string]float64{
		FactorStaleness:  s.staleness(task),
		FactorImpact:     s.impact(task),
		FactorPreference: s.preference(task),
		FactorUrgency:    s.urgency(task),
	}
	score := s.cfg.StalenessWeight*factors[FactorStaleness] +
		s.cfg.ImpactWeight*factors[FactorImpact] +
		s.cfg.PreferenceWeight*factors[FactorPreference] +
		s.cfg.UrgencyWeight*factors[FactorUrgency]

	logging.PriorityDebug("scored task %s: %.3f (staleness=%.2f impact=%.2f preference=%.2f urgency=%.2f)",
		task.ID, score, factors[FactorStaleness], factors[FactorImpact],
		factors[FactorPreference], factors[FactorUrgency])

	return types.PriorityScore{SubjectID: task.ID, Score: score, Factors: factors}
}

// staleness saturates toward 1 as the subject ages past the decay horizon.
// For gaps the age runs from detection; for requests, from enqueue.
func (s *Scorer) staleness(task *types.ScheduledTask) float64 {
	ref := task.EnqueuedAt
	if task.Gap != nil && !task.Gap.DetectedAt.IsZero() {
		ref = task.Gap.DetectedAt
	}
	if ref.IsZero() {
		return 0
	}
	ageHours := s.now().Sub(ref).Hours()
	if ageHours <= 0 {
		return 0
	}
	return 1 - math.Exp(-ageHours/s.cfg.StalenessDecayHours)
}

// impact uses the gap heuristic's 1-10 base priority where available; for
// on-demand requests the classifier's confidence stands in, since a
// confidently classified request is one we know how to serve well.
func (s *Scorer) impact(task *types.ScheduledTask) float64 {
	if task.Gap != nil {
		bp := task.Gap.BasePriority
		if bp < 1 {
			bp = 1
		}
		if bp > 10 {
			bp = 10
		}
		return float64(bp) / 10
	}
	if task.Request != nil {
		return task.Request.Confidence
	}
	return 0
}

// preference looks up the user-declared weight for the subject's domain.
// Unlisted domains get a neutral 0.5 so configured likes and dislikes both
// have room to move the score.
func (s *Scorer) preference(task *types.ScheduledTask) float64 {
	subject := task.Subject()
	if subject == nil {
		return 0.5
	}
	if w, ok := s.cfg.Preferences[subject.Domain]; ok {
		if w < 0 {
			return 0
		}
		if w > 1 {
			return 1
		}
		return w
	}
	return 0.5
}

// urgency maps the four-level enum onto [0,1].
func (s *Scorer) urgency(task *types.ScheduledTask) float64 {
	subject := task.Subject()
	if subject == nil {
		return 0
	}
	return float64(subject.Urgency.Rank()) / 3
}

// Less orders tasks for dequeue: higher score first, FIFO on ties so no
// subject starves.
func Less(a, b *types.ScheduledTask) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}
