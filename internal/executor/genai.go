package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// GENAI EXECUTOR
// =============================================================================

// GenAIExecutor runs research calls against Google's Gemini API.
type GenAIExecutor struct {
	client *genai.Client
	model  string
}

// NewGenAIExecutor builds the executor. The API key is required.
func NewGenAIExecutor(apiKey, model string) (*GenAIExecutor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIExecutor{client: client, model: model}, nil
}

// Execute renders the request into a research prompt and runs one generation
// call. Classification of failures: an empty or rejected request is fatal,
// everything else (timeouts, rate limits, 5xx) is transient and left to the
// scheduler's backoff.
func (e *GenAIExecutor) Execute(ctx context.Context, req *types.ClassifiedRequest) (*types.ResearchResult, error) {
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer timer.Stop()

	if strings.TrimSpace(req.RawQuery) == "" {
		return nil, Fatalf("empty query")
	}

	prompt := buildPrompt(req)
	logging.ExecutorDebug("generating research for %q (type=%s, model=%s)", req.RawQuery, req.ResearchType, e.model)

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Transientf("generation cancelled: %v", err)
		}
		return nil, Transientf("generation failed: %v", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		// Blocked or empty generations do not improve with retries.
		return nil, Fatalf("provider returned an empty result")
	}

	return &types.ResearchResult{
		Summary:      firstLine(text),
		Content:      text,
		Sources:      []string{fmt.Sprintf("genai:%s", e.model)},
		QualityScore: qualityEstimate(req, text),
		GeneratedAt:  time.Now(),
		Metadata: map[string]string{
			"model":         e.model,
			"research_type": string(req.ResearchType),
		},
	}, nil
}

// Name identifies the executor for logs.
func (e *GenAIExecutor) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// buildPrompt shapes the generation around the classified dimensions rather
// than passing the raw query through.
func buildPrompt(req *types.ClassifiedRequest) string {
	var b strings.Builder
	b.WriteString("You are a research assistant producing reference documentation.\n")
	fmt.Fprintf(&b, "Research type: %s. Target audience: %s. Domain: %s.\n", req.ResearchType, req.Audience, req.Domain)
	if req.Hints != nil && len(req.Hints.Frameworks) > 0 {
		fmt.Fprintf(&b, "Relevant frameworks: %s.\n", strings.Join(req.Hints.Frameworks, ", "))
	}
	b.WriteString("Answer the following thoroughly, with a one-paragraph summary first.\n\n")
	b.WriteString(req.RawQuery)
	return b.String()
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// qualityEstimate is a crude length-and-structure heuristic standing in for
// a real scoring pass. Bounded to [0.1, 0.95].
func qualityEstimate(req *types.ClassifiedRequest, text string) float64 {
	score := 0.5
	if len(text) > 1500 {
		score += 0.2
	}
	if strings.Contains(text, "```") {
		score += 0.1
	}
	if req.Confidence > 0.5 {
		score += 0.1
	}
	if len(text) < 200 {
		score = 0.2
	}
	if score > 0.95 {
		score = 0.95
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}
