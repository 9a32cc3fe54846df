package classify

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/config"
	"curator/internal/types"
)

func testConfig() config.ClassifierConfig {
	return config.Default().Classifier
}

func TestBasicClassifierTroubleshootingBeatsImplementation(t *testing.T) {
	c := NewBasicClassifier()
	got := c.Classify("How do I fix this panic when I build the project?")
	assert.Equal(t, types.ResearchTroubleshooting, got.ResearchType)
	assert.Greater(t, got.Confidence, 0.0)
	assert.Contains(t, got.Matched, "fix")
}

func TestBasicClassifierFallback(t *testing.T) {
	c := NewBasicClassifier()
	got := c.Classify("zzz qqq xyzzy")
	assert.Equal(t, types.ResearchImplementation, got.ResearchType)
	assert.Equal(t, 0.0, got.Confidence)

	got = c.Classify("   ")
	assert.Equal(t, types.ResearchImplementation, got.ResearchType)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(testConfig())
	hints := &types.ContextHints{Languages: []string{"rust"}, Tags: []string{"x"}}

	first := c.Classify(context.Background(), "why does my async executor deadlock", hints)
	for i := 0; i < 10; i++ {
		again := c.Classify(context.Background(), "why does my async executor deadlock", hints)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("classification not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestClassifyDimensions(t *testing.T) {
	c := New(testConfig())

	req := c.Classify(context.Background(), "urgent: production outage, tokio runtime panics on startup", nil)
	assert.Equal(t, types.ResearchTroubleshooting, req.ResearchType)
	assert.Equal(t, types.UrgencyUrgent, req.Urgency)
	assert.Equal(t, "rust", req.Domain)

	req = c.Classify(context.Background(), "I'm new to golang, explain what a goroutine is", nil)
	assert.Equal(t, types.AudienceBeginner, req.Audience)
	assert.Equal(t, "go", req.Domain)
}

func TestDomainClusterCoverage(t *testing.T) {
	c := New(testConfig())

	req := c.Classify(context.Background(), "How do I implement async retries in this system?", nil)
	assert.Equal(t, types.ResearchImplementation, req.ResearchType)
	assert.Equal(t, types.AudienceIntermediate, req.Audience)
	assert.Equal(t, "async", req.Domain)
	assert.Equal(t, types.UrgencyMedium, req.Urgency)

	req = c.Classify(context.Background(), "how does the linux kernel handle a page fault", nil)
	assert.Equal(t, "systems", req.Domain)

	req = c.Classify(context.Background(), "splitting a monolith into microservices along bounded contexts", nil)
	assert.Equal(t, "architecture", req.Domain)
}

func TestPreferredAudienceHintWins(t *testing.T) {
	c := New(testConfig())
	hints := &types.ContextHints{PreferredAudience: "advanced"}
	req := c.Classify(context.Background(), "I'm new to rust, getting started with ownership", hints)
	assert.Equal(t, types.AudienceAdvanced, req.Audience)
}

func TestUrgencyBoostRaisesConfidence(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)

	calm := c.Classify(context.Background(), "fix the parser bug in the tokenizer", nil)
	urgent := c.Classify(context.Background(), "urgent critical: fix the parser bug in the tokenizer asap", nil)
	require.Equal(t, calm.ResearchType, urgent.ResearchType)
	assert.Greater(t, urgent.Confidence, calm.Confidence)
	assert.Equal(t, types.UrgencyUrgent, urgent.Urgency)
}

// slowDetector blocks until its context is cancelled, simulating a detector
// that overruns the budget.
type slowDetector struct{}

func (slowDetector) Name() string { return "slow" }
func (slowDetector) Detect(ctx context.Context, _ string, _ *types.ContextHints) (Signal, error) {
	<-ctx.Done()
	return Signal{}, ctx.Err()
}

func TestBudgetOverrunDegradesToBaseline(t *testing.T) {
	cfg := testConfig()
	cfg.AdvancedBudgetMs = 20
	c := NewWithDetectors(cfg, slowDetector{})

	start := time.Now()
	req := c.Classify(context.Background(), "how do I implement a worker pool", nil)
	elapsed := time.Since(start)

	// The baseline result must come back promptly despite the stuck detector,
	// carrying zero confidence since the signal path never validated it.
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, types.ResearchImplementation, req.ResearchType)
	assert.Equal(t, 0.0, req.Confidence)
	// No signals ran, so the dimensional defaults apply.
	assert.Equal(t, types.AudienceIntermediate, req.Audience)
	assert.Equal(t, "general", req.Domain)
	assert.Equal(t, types.UrgencyMedium, req.Urgency)
}

// failingDetector returns an error immediately.
type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }
func (failingDetector) Detect(context.Context, string, *types.ContextHints) (Signal, error) {
	return Signal{}, assert.AnError
}

func TestDetectorErrorNeverPropagates(t *testing.T) {
	c := NewWithDetectors(testConfig(), failingDetector{})
	req := c.Classify(context.Background(), "implement a cache", nil)
	require.NotNil(t, req)
	assert.Equal(t, types.ResearchImplementation, req.ResearchType)
}

func TestEmptyQueryFallsBack(t *testing.T) {
	c := New(testConfig())
	req := c.Classify(context.Background(), "   ", nil)
	assert.Equal(t, types.ResearchImplementation, req.ResearchType)
	assert.Equal(t, 0.0, req.Confidence)
}

func TestClassifyContextBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ContextBudgetMs = 10
	c := NewWithDetectors(cfg, slowDetector{})

	audience, domain := c.ClassifyContext(context.Background(), "anything", nil)
	assert.Equal(t, types.AudienceIntermediate, audience)
	assert.Equal(t, "general", domain)
}
