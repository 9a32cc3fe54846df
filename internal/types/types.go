// Package types provides shared type definitions used across curator packages.
// This package exists to break import cycles between classify, cache, scheduler,
// and pipeline. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CLASSIFICATION DIMENSIONS
// =============================================================================

// ResearchType categorizes what kind of research a request is asking for.
type ResearchType string

const (
	// ResearchDecision supports decision-making between alternatives.
	ResearchDecision ResearchType = "decision"
	// ResearchImplementation guides implementation of specific features.
	ResearchImplementation ResearchType = "implementation"
	// ResearchTroubleshooting resolves specific problems or bugs.
	ResearchTroubleshooting ResearchType = "troubleshooting"
	// ResearchLearning explains concepts, technologies, or patterns.
	ResearchLearning ResearchType = "learning"
	// ResearchValidation verifies approaches, quality, or assumptions.
	ResearchValidation ResearchType = "validation"
)

// AllResearchTypes returns every research type in a stable order.
func AllResearchTypes() []ResearchType {
	return []ResearchType{
		ResearchDecision,
		ResearchImplementation,
		ResearchTroubleshooting,
		ResearchLearning,
		ResearchValidation,
	}
}

// ParseResearchType converts a string to a ResearchType.
// Unknown values fall back to ResearchImplementation, the pipeline's
// never-fail default.
func ParseResearchType(s string) ResearchType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "decision":
		return ResearchDecision
	case "implementation":
		return ResearchImplementation
	case "troubleshooting":
		return ResearchTroubleshooting
	case "learning":
		return ResearchLearning
	case "validation":
		return ResearchValidation
	default:
		return ResearchImplementation
	}
}

// Valid reports whether rt is one of the known research types.
func (rt ResearchType) Valid() bool {
	switch rt {
	case ResearchDecision, ResearchImplementation, ResearchTroubleshooting,
		ResearchLearning, ResearchValidation:
		return true
	}
	return false
}

func (rt ResearchType) String() string { return string(rt) }

// AudienceLevel describes how much background the requester is assumed to have.
type AudienceLevel string

const (
	AudienceBeginner     AudienceLevel = "beginner"
	AudienceIntermediate AudienceLevel = "intermediate"
	AudienceAdvanced     AudienceLevel = "advanced"
)

// AllAudienceLevels returns every audience level in a stable order.
func AllAudienceLevels() []AudienceLevel {
	return []AudienceLevel{AudienceBeginner, AudienceIntermediate, AudienceAdvanced}
}

// ParseAudienceLevel converts a string to an AudienceLevel, defaulting to
// intermediate for unknown values.
func ParseAudienceLevel(s string) AudienceLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "beginner", "novice":
		return AudienceBeginner
	case "advanced", "expert":
		return AudienceAdvanced
	default:
		return AudienceIntermediate
	}
}

func (a AudienceLevel) String() string { return string(a) }

// UrgencyLevel describes how time-sensitive a request is.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyUrgent UrgencyLevel = "urgent"
)

// AllUrgencyLevels returns every urgency level ordered from least to most urgent.
func AllUrgencyLevels() []UrgencyLevel {
	return []UrgencyLevel{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent}
}

// ParseUrgencyLevel converts a string to an UrgencyLevel, defaulting to medium.
func ParseUrgencyLevel(s string) UrgencyLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow
	case "medium", "normal":
		return UrgencyMedium
	case "high":
		return UrgencyHigh
	case "urgent", "immediate", "critical":
		return UrgencyUrgent
	default:
		return UrgencyMedium
	}
}

// Rank returns a numeric rank for priority math (0 = low, 3 = urgent).
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyMedium:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyUrgent:
		return 3
	default:
		return 1
	}
}

func (u UrgencyLevel) String() string { return string(u) }

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

// ContextHints carries caller-provided context that sharpens classification
// and cache key derivation. All fields are optional.
type ContextHints struct {
	// Languages the requester is working in (e.g., "go", "rust")
	Languages []string `json:"languages,omitempty"`

	// Frameworks in play (e.g., "cobra", "gin")
	Frameworks []string `json:"frameworks,omitempty"`

	// Free-form tags attached to the request
	Tags []string `json:"tags,omitempty"`

	// PreferredAudience overrides audience detection when set
	PreferredAudience string `json:"preferred_audience,omitempty"`

	// ProjectRoot anchors relative locations in gap-sourced requests
	ProjectRoot string `json:"project_root,omitempty"`
}

// ClassifiedRequest is the classifier's output: a raw query tagged along every
// classification dimension. Immutable once produced.
type ClassifiedRequest struct {
	RawQuery     string        `json:"raw_query"`
	ResearchType ResearchType  `json:"research_type"`
	Audience     AudienceLevel `json:"audience"`
	Domain       string        `json:"domain"`
	Urgency      UrgencyLevel  `json:"urgency"`

	// Confidence is the composed confidence (0.0-1.0). 0.0 signals the
	// degraded fallback path.
	Confidence float64 `json:"confidence"`

	// MatchedKeywords lists the keywords that influenced the type decision.
	MatchedKeywords []string `json:"matched_keywords,omitempty"`

	// Hints echoes the caller-provided context used during classification.
	Hints *ContextHints `json:"hints,omitempty"`
}

// ResearchResult is the opaque payload produced by the external research
// executor and stored in the cache.
type ResearchResult struct {
	Summary      string            `json:"summary"`
	Content      string            `json:"content"`
	Sources      []string          `json:"sources,omitempty"`
	QualityScore float64           `json:"quality_score"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SizeBytes estimates the in-memory footprint of the result for cache
// byte-budget accounting.
func (r *ResearchResult) SizeBytes() int64 {
	size := len(r.Summary) + len(r.Content)
	for _, s := range r.Sources {
		size += len(s)
	}
	for k, v := range r.Metadata {
		size += len(k) + len(v)
	}
	return int64(size)
}

// Validate rejects results that would corrupt the cache.
func (r *ResearchResult) Validate() error {
	if r == nil {
		return fmt.Errorf("nil research result")
	}
	if strings.TrimSpace(r.Content) == "" && strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("research result has no content")
	}
	return nil
}
