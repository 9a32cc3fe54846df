package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// KNOWLEDGE GAPS
// =============================================================================

// GapType categorizes why a project location was flagged as a knowledge gap.
type GapType string

const (
	// GapMissing means no knowledge exists for the location at all.
	GapMissing GapType = "missing"
	// GapOutdated means knowledge exists but is older than its source.
	GapOutdated GapType = "outdated"
	// GapLowConfidence means nearby knowledge exists but similarity is weak.
	GapLowConfidence GapType = "low_confidence"
	// GapOrphaned means knowledge exists for a location that no longer does.
	GapOrphaned GapType = "orphaned"
	// GapInconsistent means two knowledge entries disagree about the location.
	GapInconsistent GapType = "inconsistent"
)

func (g GapType) String() string { return string(g) }

// Valid reports whether g is one of the known gap types.
func (g GapType) Valid() bool {
	switch g {
	case GapMissing, GapOutdated, GapLowConfidence, GapOrphaned, GapInconsistent:
		return true
	}
	return false
}

// KnowledgeGap is a detected absence or staleness of knowledge for some
// project location. Produced by the gap analyzer, consumed read-only by the
// prioritizer.
type KnowledgeGap struct {
	ID       uuid.UUID `json:"id"`
	Location string    `json:"location"`
	Line     int       `json:"line,omitempty"`
	GapType  GapType   `json:"gap_type"`

	// Reason names the heuristic that fired (e.g., "todo_comment",
	// "undocumented_export", "undocumented_dependency").
	Reason string `json:"reason"`

	DetectedAt time.Time `json:"detected_at"`

	// SemanticScore is the similarity to the nearest cached knowledge entry,
	// set only when semantic refinement ran.
	SemanticScore *float64 `json:"semantic_score,omitempty"`

	// BasePriority is the heuristic's 1-10 urgency estimate, an input to the
	// prioritizer's impact factor.
	BasePriority int `json:"base_priority"`
}

// Fingerprint returns a stable identity for the gap so repeated scans of the
// same location collapse onto one scheduled task.
func (g *KnowledgeGap) Fingerprint() string {
	return fingerprint("gap", g.Location, string(g.GapType), g.Reason)
}

// Query renders the gap as a research query for the executor.
func (g *KnowledgeGap) Query() string {
	switch g.GapType {
	case GapOutdated:
		return fmt.Sprintf("Refresh documentation for %s (%s)", g.Location, g.Reason)
	case GapLowConfidence:
		return fmt.Sprintf("Strengthen documentation for %s (%s)", g.Location, g.Reason)
	default:
		return fmt.Sprintf("Document %s (%s)", g.Location, g.Reason)
	}
}

// =============================================================================
// SCHEDULED TASKS
// =============================================================================

// TaskState is the lifecycle state of a scheduled research task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskRetrying  TaskState = "retrying"
)

func (s TaskState) String() string { return string(s) }

// Terminal reports whether the state ends the task's lifecycle. Failed is
// terminal once the scheduler's attempt budget is spent; the Failed ->
// Retrying revival below is the one attempt-gated exception.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether the state machine permits moving to next.
// Queued -> Running -> {Completed | Failed}; Failed -> Retrying -> Running
// while attempts remain. The scheduler, not the state machine, enforces the
// attempt budget on the Failed -> Retrying edge.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case TaskQueued:
		return next == TaskRunning || next == TaskFailed
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed
	case TaskFailed:
		return next == TaskRetrying
	case TaskRetrying:
		return next == TaskRunning || next == TaskFailed
	default:
		return false
	}
}

// TaskSource distinguishes interactive submissions from background gap-filling.
// The scheduler's backpressure policy drops proactive enqueues first.
type TaskSource string

const (
	SourceOnDemand  TaskSource = "on_demand"
	SourceProactive TaskSource = "proactive"
)

// StateChange is one entry in a task's transition audit trail.
type StateChange struct {
	From   TaskState `json:"from"`
	To     TaskState `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// ScheduledTask is a unit of research work owned by the scheduler. The subject
// is either a classified request (on-demand path) or a knowledge gap
// (proactive path); exactly one of Request/Gap is set.
type ScheduledTask struct {
	ID          uuid.UUID  `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Source      TaskSource `json:"source"`

	Request *ClassifiedRequest `json:"request,omitempty"`
	Gap     *KnowledgeGap      `json:"gap,omitempty"`

	State    TaskState `json:"state"`
	Attempts uint32    `json:"attempts"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Score is the priority snapshot from the most recent scheduling cycle.
	// Derived data: recomputed every cycle, never authoritative.
	Score float64 `json:"score"`

	LastError string        `json:"last_error,omitempty"`
	History   []StateChange `json:"history,omitempty"`
}

// Subject returns the classified request driving this task, deriving one from
// the gap for proactive tasks.
func (t *ScheduledTask) Subject() *ClassifiedRequest {
	if t.Request != nil {
		return t.Request
	}
	if t.Gap != nil {
		return &ClassifiedRequest{
			RawQuery:     t.Gap.Query(),
			ResearchType: ResearchLearning,
			Audience:     AudienceIntermediate,
			Domain:       "general",
			Urgency:      UrgencyLow,
			Confidence:   0.5,
		}
	}
	return nil
}

// Transition moves the task to next, recording the change in the history.
// Returns an error when the state machine forbids the move.
func (t *ScheduledTask) Transition(next TaskState, reason string) error {
	if !t.State.CanTransition(next) {
		return fmt.Errorf("invalid task transition %s -> %s", t.State, next)
	}
	now := time.Now()
	t.History = append(t.History, StateChange{From: t.State, To: next, At: now, Reason: reason})
	t.State = next
	switch next {
	case TaskRunning:
		t.StartedAt = &now
	case TaskCompleted, TaskFailed:
		t.CompletedAt = &now
	case TaskRetrying:
		// Revived out of Failed; the task is live again.
		t.CompletedAt = nil
	}
	return nil
}

// RequestFingerprint returns the stable identity for an on-demand subject.
// Two semantically identical requests share one fingerprint, which is what
// makes enqueue idempotent.
func RequestFingerprint(req *ClassifiedRequest) string {
	parts := []string{
		"request",
		normalizeForFingerprint(req.RawQuery),
		string(req.ResearchType),
		string(req.Audience),
		strings.ToLower(req.Domain),
	}
	if req.Hints != nil {
		tags := append([]string(nil), req.Hints.Tags...)
		sort.Strings(tags)
		parts = append(parts, tags...)
	}
	return fingerprint(parts...)
}

func normalizeForFingerprint(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // field separator so ("ab","c") != ("a","bc")
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// =============================================================================
// NOTIFICATION EVENTS
// =============================================================================

// EventKind classifies a notification event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

func (k EventKind) String() string { return string(k) }

// Terminal reports whether the event ends a task's lifecycle. Terminal events
// must never be dropped by subscriber channels.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed
}

// NotificationEvent is an immutable, fire-and-forget observation of scheduler
// activity, fanned out to zero or more registered channels.
type NotificationEvent struct {
	TaskID    uuid.UUID         `json:"task_id"`
	Kind      EventKind         `json:"kind"`
	Message   string            `json:"message"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// =============================================================================
// PRIORITY SCORES
// =============================================================================

// PriorityScore is the prioritizer's verdict for one subject, with the
// per-factor breakdown preserved for operators. Recomputed per scheduling
// cycle and never persisted beyond the current queue snapshot.
type PriorityScore struct {
	SubjectID uuid.UUID          `json:"subject_id"`
	Score     float64            `json:"score"`
	Factors   map[string]float64 `json:"factors"`
}
