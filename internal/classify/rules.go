package classify

import (
	"sort"
	"strings"

	"curator/internal/types"
)

// =============================================================================
// KEYWORD RULES
// =============================================================================

// Rule is a weighted keyword table for one label. Confidence is the ratio of
// matched weight to total weight, so a rule with many keywords is not cheaper
// to trigger than a rule with few.
type Rule struct {
	Label    string
	Keywords map[string]float64

	// MinConfidence gates whether this rule may win outright.
	MinConfidence float64

	// Priority breaks confidence ties (higher wins).
	Priority int
}

// Confidence scores text against the rule's keyword table.
func (r *Rule) Confidence(text string) float64 {
	lower := strings.ToLower(text)
	var total, matched float64
	for keyword, weight := range r.Keywords {
		total += weight
		if strings.Contains(lower, keyword) {
			matched += weight
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// Matched returns the keywords present in text, sorted for determinism.
func (r *Rule) Matched(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for keyword := range r.Keywords {
		if strings.Contains(lower, keyword) {
			out = append(out, keyword)
		}
	}
	sort.Strings(out)
	return out
}

// defaultResearchRules returns the keyword tables for each research type.
// Troubleshooting carries higher priority so error-laden queries beat the
// generic implementation vocabulary they usually also contain.
func defaultResearchRules() []*Rule {
	return []*Rule{
		{
			Label:         string(types.ResearchDecision),
			MinConfidence: 0.1,
			Priority:      1,
			Keywords: map[string]float64{
				"choose": 1.0, "select": 0.9, "decide": 1.0, "decision": 1.0,
				"alternative": 0.8, "option": 0.7, "compare": 0.8, "versus": 0.7,
				"vs": 0.7, "best": 0.6, "recommend": 0.8, "should i": 0.9,
				"which": 0.7, "what is better": 0.9, "pros and cons": 0.9,
				"trade-offs": 0.8, "evaluate": 0.7,
			},
		},
		{
			Label:         string(types.ResearchImplementation),
			MinConfidence: 0.1,
			Priority:      1,
			Keywords: map[string]float64{
				"implement": 1.0, "build": 0.9, "create": 0.8, "develop": 0.9,
				"code": 0.8, "write": 0.7, "make": 0.6, "construct": 0.8,
				"setup": 0.7, "configure": 0.7, "how to": 0.6, "step by step": 0.8,
				"tutorial": 0.7, "guide": 0.6, "example": 0.7, "sample": 0.6,
				"template": 0.7, "boilerplate": 0.8,
			},
		},
		{
			Label:         string(types.ResearchTroubleshooting),
			MinConfidence: 0.1,
			Priority:      2,
			Keywords: map[string]float64{
				"error": 1.0, "bug": 1.0, "problem": 0.9, "issue": 0.8,
				"fix": 1.0, "debug": 1.0, "solve": 0.9, "troubleshoot": 1.0,
				"broken": 0.9, "failed": 0.8, "failing": 0.8, "not working": 0.9,
				"doesn't work": 0.9, "won't": 0.7, "can't": 0.7, "unable": 0.7,
				"crash": 0.9, "exception": 0.9, "panic": 0.9, "segfault": 0.9,
			},
		},
		{
			Label:         string(types.ResearchLearning),
			MinConfidence: 0.1,
			Priority:      1,
			Keywords: map[string]float64{
				"what is": 1.0, "what are": 1.0, "explain": 0.9, "understand": 0.9,
				"learn": 1.0, "definition": 0.9, "concept": 0.8, "theory": 0.8,
				"principle": 0.8, "overview": 0.7, "introduction": 0.8,
				"basics": 0.8, "fundamentals": 0.8, "background": 0.7,
				"history": 0.6, "why": 0.6, "purpose": 0.7, "meaning": 0.7,
				"documentation": 0.6, "reference": 0.6,
			},
		},
		{
			Label:         string(types.ResearchValidation),
			MinConfidence: 0.1,
			Priority:      1,
			Keywords: map[string]float64{
				"test": 1.0, "testing": 1.0, "verify": 0.9, "validate": 1.0,
				"check": 0.8, "ensure": 0.7, "confirm": 0.8, "prove": 0.7,
				"quality": 0.7, "performance": 0.7, "benchmark": 0.8,
				"measure": 0.7, "assess": 0.7, "audit": 0.8, "review": 0.6,
				"accurate": 0.6, "reliable": 0.6, "stable": 0.6,
			},
		},
	}
}

// defaultAudienceRules score phrasing for experience level. Intermediate is
// the fallback when neither table fires convincingly, so it has no rule.
func defaultAudienceRules() []*Rule {
	return []*Rule{
		{
			Label:         string(types.AudienceBeginner),
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"new to": 1.0, "beginner": 1.0, "getting started": 1.0,
				"first time": 1.0, "just started": 1.0, "never used": 1.0,
				"don't know": 0.9, "don't understand": 0.9, "confused": 0.8,
				"help me": 0.8, "simple": 0.7, "easy": 0.7, "basic": 0.8,
				"introduction": 0.8, "what is": 0.8, "how do i": 0.7,
				"step by step": 0.8, "from scratch": 0.9, "newbie": 0.9,
			},
		},
		{
			Label:         string(types.AudienceAdvanced),
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"internals": 1.0, "under the hood": 1.0, "performance tuning": 0.9,
				"optimization": 0.8, "optimize": 0.8, "architecture": 0.8,
				"scalability": 0.8, "zero-copy": 0.9, "lock-free": 0.9,
				"memory layout": 0.9, "benchmark": 0.7, "profiling": 0.8,
				"edge case": 0.7, "advanced": 0.9, "deep dive": 0.9,
				"trade-off": 0.7, "distributed": 0.7,
			},
		},
	}
}

// defaultUrgencyRules score temporal and severity language. Medium is the
// fallback level.
func defaultUrgencyRules() []*Rule {
	return []*Rule{
		{
			Label:         string(types.UrgencyUrgent),
			MinConfidence: 0.05,
			Priority:      2,
			Keywords: map[string]float64{
				"urgent": 1.0, "emergency": 1.0, "critical": 1.0, "asap": 1.0,
				"immediately": 1.0, "right now": 1.0, "outage": 0.9,
				"production down": 1.0, "data loss": 1.0, "security breach": 1.0,
			},
		},
		{
			Label:         string(types.UrgencyHigh),
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"broke": 0.9, "broken": 0.9, "failing": 0.9, "failed": 0.9,
				"not working": 0.9, "doesn't work": 0.9, "stuck": 0.8,
				"blocked": 0.8, "blocker": 0.8, "crash": 0.9, "crashing": 0.9,
				"production": 0.7, "deadline": 0.8, "today": 0.7,
			},
		},
		{
			Label:         string(types.UrgencyLow),
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"eventually": 1.0, "someday": 1.0, "curious": 0.9,
				"out of interest": 0.9, "no rush": 1.0, "whenever": 0.9,
				"background reading": 0.9, "exploring": 0.8, "long term": 0.8,
			},
		},
	}
}

// defaultDomainRules cluster technology vocabulary. The winning label becomes
// the request's domain dimension; "general" is the fallback.
func defaultDomainRules() []*Rule {
	return []*Rule{
		{
			Label:         "rust",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"rust": 1.0, "cargo": 1.0, "crate": 0.9, "borrow": 0.9,
				"lifetime": 0.9, "trait": 0.8, "tokio": 0.9, "serde": 0.8,
				"unsafe": 0.9, "rustc": 1.0,
			},
		},
		{
			Label:         "go",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"golang": 1.0, "goroutine": 1.0, "channel": 0.8, "go mod": 1.0,
				"gofmt": 1.0, "errgroup": 0.9, "context.context": 0.9,
				"interface": 0.6, "defer": 0.8,
			},
		},
		{
			Label:         "python",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"python": 1.0, "pip": 0.9, "django": 0.9, "flask": 0.9,
				"pandas": 0.9, "numpy": 0.9, "asyncio": 0.9, "pytest": 0.9,
				"virtualenv": 0.9,
			},
		},
		{
			Label:         "web",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"javascript": 1.0, "typescript": 1.0, "react": 0.9, "css": 0.9,
				"html": 0.8, "node": 0.8, "browser": 0.8, "frontend": 0.9,
				"http": 0.7, "rest api": 0.8, "graphql": 0.9,
			},
		},
		{
			Label:         "database",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"sql": 1.0, "sqlite": 1.0, "postgres": 1.0, "mysql": 1.0,
				"index": 0.7, "query plan": 0.9, "transaction": 0.8,
				"migration": 0.8, "schema": 0.8, "orm": 0.8,
			},
		},
		{
			Label:         "devops",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"docker": 1.0, "kubernetes": 1.0, "k8s": 1.0, "terraform": 1.0,
				"ci/cd": 0.9, "pipeline": 0.7, "deploy": 0.8, "helm": 0.9,
				"container": 0.8, "ansible": 0.9,
			},
		},
		{
			Label:         "security",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"security": 1.0, "vulnerability": 1.0, "cve": 1.0, "auth": 0.8,
				"oauth": 0.9, "jwt": 0.9, "encryption": 0.9, "tls": 0.9,
				"xss": 0.9, "injection": 0.8,
			},
		},
		{
			Label:         "ai",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"llm": 1.0, "embedding": 1.0, "machine learning": 1.0,
				"neural": 0.9, "model": 0.6, "prompt": 0.8, "fine-tune": 0.9,
				"inference": 0.8, "transformer": 0.9, "rag": 0.9,
			},
		},
		{
			Label:         "async",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"async": 1.0, "await": 0.9, "concurrency": 0.9,
				"concurrent": 0.8, "race condition": 0.9, "deadlock": 0.9,
				"mutex": 0.8, "semaphore": 0.8, "retries": 0.6, "backoff": 0.7,
			},
		},
		{
			Label:         "systems",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"kernel": 1.0, "syscall": 1.0, "operating system": 1.0,
				"filesystem": 0.9, "memory management": 0.9, "linux": 0.8,
				"embedded": 0.8, "low-level": 0.8, "signal handling": 0.9,
				"page fault": 0.9,
			},
		},
		{
			Label:         "architecture",
			MinConfidence: 0.05,
			Priority:      1,
			Keywords: map[string]float64{
				"architecture": 1.0, "microservice": 1.0, "monolith": 0.9,
				"system design": 1.0, "design pattern": 0.9, "event-driven": 0.9,
				"domain-driven": 0.9, "message queue": 0.8, "api design": 0.9,
				"bounded context": 0.9,
			},
		},
	}
}
