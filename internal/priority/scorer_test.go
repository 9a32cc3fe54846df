package priority

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/config"
	"curator/internal/types"
)

func newScorer(t *testing.T, mutate func(*config.PriorityConfig)) *Scorer {
	t.Helper()
	cfg := config.Default().Priority
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScorer(cfg)
	require.NoError(t, err)
	return s
}

func requestTask(urgency types.UrgencyLevel, domain string, enqueued time.Time) *types.ScheduledTask {
	return &types.ScheduledTask{
		ID:     uuid.New(),
		Source: types.SourceOnDemand,
		Request: &types.ClassifiedRequest{
			RawQuery:     "q",
			ResearchType: types.ResearchImplementation,
			Audience:     types.AudienceIntermediate,
			Domain:       domain,
			Urgency:      urgency,
			Confidence:   0.5,
		},
		State:      types.TaskQueued,
		EnqueuedAt: enqueued,
	}
}

func gapTask(basePriority int, detected time.Time) *types.ScheduledTask {
	return &types.ScheduledTask{
		ID:     uuid.New(),
		Source: types.SourceProactive,
		Gap: &types.KnowledgeGap{
			ID:           uuid.New(),
			Location:     "internal/store/tasks.go",
			GapType:      types.GapMissing,
			Reason:       "undocumented_export",
			DetectedAt:   detected,
			BasePriority: basePriority,
		},
		State:      types.TaskQueued,
		EnqueuedAt: detected,
	}
}

func TestRejectsInvalidWeights(t *testing.T) {
	cfg := config.Default().Priority
	cfg.UrgencyWeight = 0.9
	_, err := NewScorer(cfg)
	assert.Error(t, err)
}

func TestUrgencyRaisesScore(t *testing.T) {
	s := newScorer(t, nil)
	now := time.Now()

	low := s.Score(requestTask(types.UrgencyLow, "go", now))
	urgent := s.Score(requestTask(types.UrgencyUrgent, "go", now))
	assert.Greater(t, urgent.Score, low.Score)
	assert.Equal(t, 1.0, urgent.Factors[FactorUrgency])
	assert.Equal(t, 0.0, low.Factors[FactorUrgency])
}

func TestStalenessSaturatesWithAge(t *testing.T) {
	s := newScorer(t, nil)

	fresh := s.Score(gapTask(5, time.Now()))
	day := s.Score(gapTask(5, time.Now().Add(-24*time.Hour)))
	week := s.Score(gapTask(5, time.Now().Add(-7*24*time.Hour)))

	assert.Less(t, fresh.Factors[FactorStaleness], day.Factors[FactorStaleness])
	assert.Less(t, day.Factors[FactorStaleness], week.Factors[FactorStaleness])
	assert.LessOrEqual(t, week.Factors[FactorStaleness], 1.0)
}

func TestGapBasePriorityDrivesImpact(t *testing.T) {
	s := newScorer(t, nil)
	now := time.Now()

	minor := s.Score(gapTask(2, now))
	major := s.Score(gapTask(9, now))
	assert.Greater(t, major.Factors[FactorImpact], minor.Factors[FactorImpact])
	assert.Greater(t, major.Score, minor.Score)
}

func TestDomainPreferenceMovesScore(t *testing.T) {
	s := newScorer(t, func(cfg *config.PriorityConfig) {
		cfg.Preferences = map[string]float64{"rust": 1.0, "web": 0.0}
	})
	now := time.Now()

	liked := s.Score(requestTask(types.UrgencyMedium, "rust", now))
	disliked := s.Score(requestTask(types.UrgencyMedium, "web", now))
	neutral := s.Score(requestTask(types.UrgencyMedium, "go", now))

	assert.Greater(t, liked.Score, neutral.Score)
	assert.Greater(t, neutral.Score, disliked.Score)
	assert.Equal(t, 0.5, neutral.Factors[FactorPreference])
}

func TestScoreBounded(t *testing.T) {
	s := newScorer(t, func(cfg *config.PriorityConfig) {
		cfg.Preferences = map[string]float64{"go": 1.0}
	})
	task := requestTask(types.UrgencyUrgent, "go", time.Now().Add(-30*24*time.Hour))
	task.Request.Confidence = 1.0

	score := s.Score(task)
	assert.LessOrEqual(t, score.Score, 1.0)
	assert.GreaterOrEqual(t, score.Score, 0.0)
}

func TestLessOrdersByScoreThenFIFO(t *testing.T) {
	earlier := time.Now().Add(-time.Minute)
	later := time.Now()

	high := requestTask(types.UrgencyHigh, "go", later)
	high.Score = 0.8
	low := requestTask(types.UrgencyLow, "go", earlier)
	low.Score = 0.2
	assert.True(t, Less(high, low))
	assert.False(t, Less(low, high))

	tiedOld := requestTask(types.UrgencyMedium, "go", earlier)
	tiedOld.Score = 0.5
	tiedNew := requestTask(types.UrgencyMedium, "go", later)
	tiedNew.Score = 0.5
	assert.True(t, Less(tiedOld, tiedNew))
	assert.False(t, Less(tiedNew, tiedOld))
}
