package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curator/internal/types"
)

// StubExecutor produces canned results without any network dependency. The
// default provider so a fresh checkout runs end to end; also the test double.
type StubExecutor struct {
	// Delay simulates executor latency per call.
	Delay time.Duration

	// Fail, when set, is consulted per request to inject failures.
	Fail func(req *types.ClassifiedRequest) error
}

// Execute returns a deterministic placeholder result.
func (s *StubExecutor) Execute(ctx context.Context, req *types.ClassifiedRequest) (*types.ResearchResult, error) {
	if strings.TrimSpace(req.RawQuery) == "" {
		return nil, Fatalf("empty query")
	}
	if s.Fail != nil {
		if err := s.Fail(req); err != nil {
			return nil, err
		}
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, Transientf("cancelled: %v", ctx.Err())
		}
	}
	content := fmt.Sprintf("Stub research notes for %q (%s, %s audience, domain %s).",
		req.RawQuery, req.ResearchType, req.Audience, req.Domain)
	return &types.ResearchResult{
		Summary:      content,
		Content:      content,
		Sources:      []string{"stub"},
		QualityScore: 0.5,
		GeneratedAt:  time.Now(),
	}, nil
}

// Name identifies the executor for logs.
func (s *StubExecutor) Name() string { return "stub" }
