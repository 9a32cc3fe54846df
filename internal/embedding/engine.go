// Package embedding generates vector embeddings for semantic gap refinement.
// Supports a local Ollama server and Google GenAI; provider "none" disables
// embeddings entirely and the gap analyzer degrades to pattern-only scanning.
package embedding

import (
	"context"
	"fmt"

	"curator/internal/config"
	"curator/internal/logging"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced embeddings.
	Dimensions() int

	// Name identifies the engine for logs.
	Name() string
}

// HealthChecker is optionally implemented by engines that can verify their
// backing service is reachable before batch work begins.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine builds the configured engine. Provider "none" returns (nil, nil):
// callers treat a nil engine as "semantic features unavailable" and carry on.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	switch cfg.Provider {
	case "", "none":
		logging.Embedding("embedding disabled (provider=none)")
		return nil, nil
	case "ollama":
		logging.Embedding("initializing ollama engine: endpoint=%s model=%s", cfg.OllamaEndpoint, cfg.OllamaModel)
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		logging.Embedding("initializing genai engine: model=%s", cfg.GenAIModel)
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai' or 'none')", cfg.Provider)
	}
}
