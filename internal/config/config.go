// Package config holds ALL curator configuration from .curator/config.json.
// This is the single source of truth for configuration: component packages
// receive their section as a value, never read the file themselves.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all curator configuration.
type Config struct {
	// Workspace is the project root the pipeline operates on.
	// Not serialized; set by the loader.
	Workspace string `json:"-"`

	Classifier ClassifierConfig `json:"classifier"`
	Cache      CacheConfig      `json:"cache"`
	Gaps       GapsConfig       `json:"gaps"`
	Priority   PriorityConfig   `json:"priority"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Notify     NotifyConfig     `json:"notify"`
	Executor   ExecutorConfig   `json:"executor"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Store      StoreConfig      `json:"store"`
	Logging    LoggingConfig    `json:"logging"`
}

// ClassifierConfig tunes request classification.
type ClassifierConfig struct {
	// AdvancedBudget caps the advanced (signal-composition) path; on
	// overrun the basic result is used. Milliseconds.
	AdvancedBudgetMs int `json:"advanced_budget_ms"`

	// ContextBudget caps context-only detection. Milliseconds.
	ContextBudgetMs int `json:"context_budget_ms"`

	// Boost multipliers applied during signal composition.
	UrgencyBoost  float64 `json:"urgency_boost"`
	BeginnerBoost float64 `json:"beginner_boost"`
	DomainBoost   float64 `json:"domain_boost"`

	// LowConfidenceThreshold triggers the confidence penalty below it.
	LowConfidenceThreshold float64 `json:"low_confidence_threshold"`

	// LowConfidencePenalty is multiplied into composed confidence when the
	// strongest signal sits below the threshold.
	LowConfidencePenalty float64 `json:"low_confidence_penalty"`
}

// CacheConfig tunes the knowledge cache store.
type CacheConfig struct {
	// MaxSizeBytes is the LRU byte budget. Zero means the default.
	MaxSizeBytes int64 `json:"max_size_bytes"`

	// DefaultTTL applies when a caller stores without an explicit TTL.
	DefaultTTL Duration `json:"default_ttl"`

	// SweepInterval is the background TTL sweep cadence. Zero disables.
	SweepInterval Duration `json:"sweep_interval"`
}

// GapsConfig tunes project scanning for knowledge gaps.
type GapsConfig struct {
	// RulesPath points at an optional YAML heuristic rules file; empty uses
	// the built-in rule set.
	RulesPath string `json:"rules_path"`

	// IncludeExtensions limits scanning to these file extensions.
	IncludeExtensions []string `json:"include_extensions"`

	// ExcludeDirs are directory names skipped entirely.
	ExcludeDirs []string `json:"exclude_dirs"`

	// MaxFileSizeBytes skips files larger than this.
	MaxFileSizeBytes int64 `json:"max_file_size_bytes"`

	// PerFileBudget bounds a single file's analysis.
	PerFileBudget Duration `json:"per_file_budget"`

	// Workers is the parallelism for file-level pattern checks.
	Workers int `json:"workers"`

	// SimilarityThreshold: gaps whose context matches cached knowledge above
	// this are reclassified low-confidence; above DropThreshold they are
	// dropped as already covered.
	SimilarityThreshold float64 `json:"similarity_threshold"`
	DropThreshold       float64 `json:"drop_threshold"`

	// SemanticBatchSize batches similarity lookups during refinement.
	SemanticBatchSize int `json:"semantic_batch_size"`

	// DebounceWindow settles rapid file-change events before incremental
	// analysis.
	DebounceWindow Duration `json:"debounce_window"`

	// ScanInterval is the cadence of full proactive scans. Zero disables
	// periodic scanning; the file watcher still drives incremental analysis.
	ScanInterval Duration `json:"scan_interval"`
}

// PriorityConfig holds the scoring weights. Weights are configuration, not
// code constants: operators retune without recompiling. Weights must sum
// to 1.0.
type PriorityConfig struct {
	StalenessWeight  float64 `json:"staleness_weight"`
	ImpactWeight     float64 `json:"impact_weight"`
	PreferenceWeight float64 `json:"preference_weight"`
	UrgencyWeight    float64 `json:"urgency_weight"`

	// StalenessDecayHours controls how fast age saturates the staleness
	// factor.
	StalenessDecayHours float64 `json:"staleness_decay_hours"`

	// Preferences maps domain -> user-declared weight (0.0-1.0).
	Preferences map[string]float64 `json:"preferences,omitempty"`
}

// Validate checks that the weights form a proper convex combination.
func (p PriorityConfig) Validate() error {
	sum := p.StalenessWeight + p.ImpactWeight + p.PreferenceWeight + p.UrgencyWeight
	if diff := sum - 1.0; diff > 0.001 || diff < -0.001 {
		return fmt.Errorf("priority weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}

// SchedulerConfig tunes the background task runner.
type SchedulerConfig struct {
	// MaxConcurrency bounds simultaneous executor calls.
	MaxConcurrency int `json:"max_concurrency"`

	// MaxQueueDepth is the backpressure line: beyond it, proactive enqueues
	// are dropped with a warning. On-demand enqueues are never dropped.
	MaxQueueDepth int `json:"max_queue_depth"`

	// MaxAttempts bounds retries per task.
	MaxAttempts int `json:"max_attempts"`

	// InitialBackoff doubles per retry up to MaxBackoff.
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`

	// ExecutorTimeout bounds one executor call. Generous: research calls
	// are minutes, not seconds.
	ExecutorTimeout Duration `json:"executor_timeout"`

	// PollInterval is the run loop's idle wakeup cadence.
	PollInterval Duration `json:"poll_interval"`

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout Duration `json:"drain_timeout"`
}

// NotifyConfig tunes notification fan-out.
type NotifyConfig struct {
	// ChannelBuffer is the per-subscriber bounded channel size.
	ChannelBuffer int `json:"channel_buffer"`

	// ProgressInterval throttles progress events per task.
	ProgressInterval Duration `json:"progress_interval"`

	// DeliveryTimeout bounds one channel delivery attempt.
	DeliveryTimeout Duration `json:"delivery_timeout"`

	// MaxRetries per channel delivery before giving up.
	MaxRetries int `json:"max_retries"`

	// RetryBackoff between delivery attempts.
	RetryBackoff Duration `json:"retry_backoff"`

	// WebhookURL, when set, registers the webhook channel at boot.
	WebhookURL string `json:"webhook_url,omitempty"`

	// LogPath, when set, registers the file-log channel at boot.
	LogPath string `json:"log_path,omitempty"`
}

// ExecutorConfig selects and configures the research executor.
type ExecutorConfig struct {
	// Provider: "genai" or "stub"
	Provider string `json:"provider"`

	GenAIAPIKey string `json:"genai_api_key,omitempty"`
	GenAIModel  string `json:"genai_model,omitempty"`
}

// EmbeddingConfig configures the embedding engine used for semantic gap
// refinement. Provider "none" disables semantic refinement entirely.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai", or "none"
	Provider string `json:"provider"`

	OllamaEndpoint string `json:"ollama_endpoint,omitempty"`
	OllamaModel    string `json:"ollama_model,omitempty"`

	GenAIAPIKey string `json:"genai_api_key,omitempty"`
	GenAIModel  string `json:"genai_model,omitempty"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	// Path to the database file; empty derives .curator/curator.db under the
	// workspace.
	Path string `json:"path,omitempty"`
}

// LoggingConfig mirrors internal/logging's view of the config file.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
	JSONFormat bool            `json:"json_format,omitempty"`
}

// Duration wraps time.Duration with JSON string encoding ("30s", "5m").
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON encodes as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			AdvancedBudgetMs:       500,
			ContextBudgetMs:        100,
			UrgencyBoost:           1.3,
			BeginnerBoost:          1.2,
			DomainBoost:            1.1,
			LowConfidenceThreshold: 0.4,
			LowConfidencePenalty:   0.5,
		},
		Cache: CacheConfig{
			MaxSizeBytes:  64 << 20, // 64 MiB
			DefaultTTL:    Duration(24 * time.Hour),
			SweepInterval: Duration(5 * time.Minute),
		},
		Gaps: GapsConfig{
			IncludeExtensions:   []string{".go", ".rs", ".py", ".ts", ".js", ".md"},
			ExcludeDirs:         []string{".git", "vendor", "node_modules", "target", ".curator"},
			MaxFileSizeBytes:    1 << 20, // 1 MiB
			PerFileBudget:       Duration(200 * time.Millisecond),
			Workers:             8,
			SimilarityThreshold: 0.75,
			DropThreshold:       0.92,
			SemanticBatchSize:   32,
			DebounceWindow:      Duration(500 * time.Millisecond),
			ScanInterval:        Duration(30 * time.Minute),
		},
		Priority: PriorityConfig{
			StalenessWeight:     0.2,
			ImpactWeight:        0.3,
			PreferenceWeight:    0.1,
			UrgencyWeight:       0.4,
			StalenessDecayHours: 24,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrency:  5,
			MaxQueueDepth:   100,
			MaxAttempts:     3,
			InitialBackoff:  Duration(1 * time.Second),
			MaxBackoff:      Duration(30 * time.Second),
			ExecutorTimeout: Duration(5 * time.Minute),
			PollInterval:    Duration(100 * time.Millisecond),
			DrainTimeout:    Duration(30 * time.Second),
		},
		Notify: NotifyConfig{
			ChannelBuffer:    64,
			ProgressInterval: Duration(2 * time.Second),
			DeliveryTimeout:  Duration(5 * time.Second),
			MaxRetries:       2,
			RetryBackoff:     Duration(500 * time.Millisecond),
		},
		Executor: ExecutorConfig{
			Provider:   "stub",
			GenAIModel: "gemini-2.0-flash",
		},
		Embedding: EmbeddingConfig{
			Provider:       "none",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .curator/config.json under the workspace, applying defaults for
// anything unset and environment overrides last. A missing file yields the
// defaults.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	cfg.Workspace = workspace

	path := filepath.Join(workspace, ".curator", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.fixup()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Workspace = workspace

	cfg.applyEnvOverrides()
	cfg.fixup()

	if err := cfg.Priority.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments win over the file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.Executor.GenAIAPIKey == "" {
			c.Executor.GenAIAPIKey = key
		}
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if url := os.Getenv("CURATOR_WEBHOOK_URL"); url != "" {
		c.Notify.WebhookURL = url
	}
	if path := os.Getenv("CURATOR_DB"); path != "" {
		c.Store.Path = path
	}
	if endpoint := os.Getenv("OLLAMA_HOST"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
}

// fixup replaces zero values with defaults so a sparse config file works.
func (c *Config) fixup() {
	def := Default()
	if c.Classifier.AdvancedBudgetMs <= 0 {
		c.Classifier.AdvancedBudgetMs = def.Classifier.AdvancedBudgetMs
	}
	if c.Classifier.ContextBudgetMs <= 0 {
		c.Classifier.ContextBudgetMs = def.Classifier.ContextBudgetMs
	}
	if c.Classifier.UrgencyBoost <= 0 {
		c.Classifier.UrgencyBoost = def.Classifier.UrgencyBoost
	}
	if c.Classifier.BeginnerBoost <= 0 {
		c.Classifier.BeginnerBoost = def.Classifier.BeginnerBoost
	}
	if c.Classifier.DomainBoost <= 0 {
		c.Classifier.DomainBoost = def.Classifier.DomainBoost
	}
	if c.Classifier.LowConfidencePenalty <= 0 {
		c.Classifier.LowConfidencePenalty = def.Classifier.LowConfidencePenalty
	}
	if c.Cache.MaxSizeBytes <= 0 {
		c.Cache.MaxSizeBytes = def.Cache.MaxSizeBytes
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = def.Cache.DefaultTTL
	}
	if len(c.Gaps.IncludeExtensions) == 0 {
		c.Gaps.IncludeExtensions = def.Gaps.IncludeExtensions
	}
	if len(c.Gaps.ExcludeDirs) == 0 {
		c.Gaps.ExcludeDirs = def.Gaps.ExcludeDirs
	}
	if c.Gaps.MaxFileSizeBytes <= 0 {
		c.Gaps.MaxFileSizeBytes = def.Gaps.MaxFileSizeBytes
	}
	if c.Gaps.PerFileBudget <= 0 {
		c.Gaps.PerFileBudget = def.Gaps.PerFileBudget
	}
	if c.Gaps.Workers <= 0 {
		c.Gaps.Workers = def.Gaps.Workers
	}
	if c.Gaps.SimilarityThreshold <= 0 {
		c.Gaps.SimilarityThreshold = def.Gaps.SimilarityThreshold
	}
	if c.Gaps.DropThreshold <= 0 {
		c.Gaps.DropThreshold = def.Gaps.DropThreshold
	}
	if c.Gaps.SemanticBatchSize <= 0 {
		c.Gaps.SemanticBatchSize = def.Gaps.SemanticBatchSize
	}
	if c.Gaps.DebounceWindow <= 0 {
		c.Gaps.DebounceWindow = def.Gaps.DebounceWindow
	}
	if c.Priority.StalenessWeight == 0 && c.Priority.ImpactWeight == 0 &&
		c.Priority.PreferenceWeight == 0 && c.Priority.UrgencyWeight == 0 {
		c.Priority.StalenessWeight = def.Priority.StalenessWeight
		c.Priority.ImpactWeight = def.Priority.ImpactWeight
		c.Priority.PreferenceWeight = def.Priority.PreferenceWeight
		c.Priority.UrgencyWeight = def.Priority.UrgencyWeight
	}
	if c.Priority.StalenessDecayHours <= 0 {
		c.Priority.StalenessDecayHours = def.Priority.StalenessDecayHours
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		c.Scheduler.MaxConcurrency = def.Scheduler.MaxConcurrency
	}
	if c.Scheduler.MaxQueueDepth <= 0 {
		c.Scheduler.MaxQueueDepth = def.Scheduler.MaxQueueDepth
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = def.Scheduler.MaxAttempts
	}
	if c.Scheduler.InitialBackoff <= 0 {
		c.Scheduler.InitialBackoff = def.Scheduler.InitialBackoff
	}
	if c.Scheduler.MaxBackoff <= 0 {
		c.Scheduler.MaxBackoff = def.Scheduler.MaxBackoff
	}
	if c.Scheduler.ExecutorTimeout <= 0 {
		c.Scheduler.ExecutorTimeout = def.Scheduler.ExecutorTimeout
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = def.Scheduler.PollInterval
	}
	if c.Scheduler.DrainTimeout <= 0 {
		c.Scheduler.DrainTimeout = def.Scheduler.DrainTimeout
	}
	if c.Notify.ChannelBuffer <= 0 {
		c.Notify.ChannelBuffer = def.Notify.ChannelBuffer
	}
	if c.Notify.ProgressInterval <= 0 {
		c.Notify.ProgressInterval = def.Notify.ProgressInterval
	}
	if c.Notify.DeliveryTimeout <= 0 {
		c.Notify.DeliveryTimeout = def.Notify.DeliveryTimeout
	}
	if c.Notify.RetryBackoff <= 0 {
		c.Notify.RetryBackoff = def.Notify.RetryBackoff
	}
	if c.Executor.Provider == "" {
		c.Executor.Provider = def.Executor.Provider
	}
	if c.Executor.GenAIModel == "" {
		c.Executor.GenAIModel = def.Executor.GenAIModel
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = def.Embedding.Provider
	}
	if c.Embedding.OllamaEndpoint == "" {
		c.Embedding.OllamaEndpoint = def.Embedding.OllamaEndpoint
	}
	if c.Embedding.OllamaModel == "" {
		c.Embedding.OllamaModel = def.Embedding.OllamaModel
	}
	if c.Embedding.GenAIModel == "" {
		c.Embedding.GenAIModel = def.Embedding.GenAIModel
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Workspace, ".curator", "curator.db")
	}
}

// DBPath returns the resolved SQLite database path.
func (c *Config) DBPath() string { return c.Store.Path }
