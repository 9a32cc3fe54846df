// Package pipeline wires the whole system together behind one facade:
// classify a query, serve it from the knowledge cache when possible,
// schedule research when not, and keep the cache fresh proactively from
// detected knowledge gaps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"curator/internal/cache"
	"curator/internal/classify"
	"curator/internal/config"
	"curator/internal/embedding"
	"curator/internal/executor"
	"curator/internal/gaps"
	"curator/internal/logging"
	"curator/internal/notify"
	"curator/internal/priority"
	"curator/internal/scheduler"
	"curator/internal/store"
	"curator/internal/types"
)

var (
	// ErrEmptyQuery rejects submissions with nothing to research.
	ErrEmptyQuery = errors.New("pipeline: empty query")

	// ErrQueryTooLarge rejects oversized submissions outright.
	ErrQueryTooLarge = errors.New("pipeline: query exceeds size limit")

	// ErrPermission gates administrative operations.
	ErrPermission = errors.New("pipeline: admin permission required")
)

// maxQueryBytes bounds a single submission. Anything larger is a paste
// accident, not a research question.
const maxQueryBytes = 16 << 10

// SubmitResult is the outcome of one submission: either a cache hit with the
// stored result, or the id of the scheduled task that will produce one.
type SubmitResult struct {
	Request  *types.ClassifiedRequest `json:"request"`
	Cached   bool                     `json:"cached"`
	Result   *types.ResearchResult    `json:"result,omitempty"`
	HitCount uint64                   `json:"hit_count,omitempty"`
	TaskID   uuid.UUID                `json:"task_id,omitempty"`
}

// Stats is a point-in-time view across the pipeline's moving parts.
type Stats struct {
	Cache      cache.Stats `json:"cache"`
	QueueDepth int         `json:"queue_depth"`
	Enqueued   uint64      `json:"enqueued"`
	Completed  uint64      `json:"completed"`
	Failed     uint64      `json:"failed"`
	Retried    uint64      `json:"retried"`
	Dropped    uint64      `json:"dropped_proactive"`
}

// Option adjusts pipeline construction, mostly for tests.
type Option func(*Pipeline)

// WithExecutor swaps the research executor.
func WithExecutor(exec executor.ResearchExecutor) Option {
	return func(p *Pipeline) { p.exec = exec }
}

// WithEmbedding swaps the embedding engine. Nil disables semantic features.
func WithEmbedding(engine embedding.Engine) Option {
	return func(p *Pipeline) { p.engine = engine }
}

// WithWatcher enables the file watcher during Start.
func WithWatcher() Option {
	return func(p *Pipeline) { p.watchEnabled = true }
}

// Pipeline is the facade over classification, caching, gap analysis,
// scheduling and notification.
type Pipeline struct {
	cfg *config.Config

	classifier *classify.Classifier
	knowledge  *cache.Store
	store      *store.Store
	exec       executor.ResearchExecutor
	engine     embedding.Engine
	notifier   *notify.Notifier
	sched      *scheduler.Scheduler
	analyzer   *gaps.Analyzer
	watcher    *gaps.Watcher

	watchEnabled bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New assembles a pipeline from configuration. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	db, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		classifier: classify.New(cfg.Classifier),
		knowledge:  cache.New(cfg.Cache),
		store:      db,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.exec == nil {
		p.exec, err = newExecutor(cfg.Executor)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	if p.engine == nil {
		p.engine, err = embedding.NewEngine(cfg.Embedding)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	var search gaps.SimilaritySearch
	if p.engine != nil {
		search = &vectorSearch{engine: p.engine, vectors: db}
	}
	p.analyzer, err = gaps.NewAnalyzer(cfg.Gaps, search)
	if err != nil {
		db.Close()
		return nil, err
	}

	scorer, err := priority.NewScorer(cfg.Priority)
	if err != nil {
		db.Close()
		return nil, err
	}

	p.notifier = notify.New(cfg.Notify, db)
	p.notifier.RegisterChannel(notify.NewCLIChannel(nil))
	if cfg.Notify.LogPath != "" {
		fileCh, err := notify.NewFileChannel(cfg.Notify.LogPath)
		if err != nil {
			db.Close()
			return nil, err
		}
		p.notifier.RegisterChannel(fileCh)
	}
	if cfg.Notify.WebhookURL != "" {
		p.notifier.RegisterChannel(notify.NewWebhookChannel(cfg.Notify.WebhookURL))
	}

	p.sched = scheduler.New(cfg.Scheduler, db, scorer, p.exec, p.knowledge, p.notifier)
	p.sched.OnComplete = func(task *types.ScheduledTask, key cache.Key, result *types.ResearchResult) {
		p.indexResult(key, result)
	}
	return p, nil
}

func newExecutor(cfg config.ExecutorConfig) (executor.ResearchExecutor, error) {
	switch cfg.Provider {
	case "", "stub":
		return &executor.StubExecutor{}, nil
	case "genai":
		return executor.NewGenAIExecutor(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unknown executor provider %q", cfg.Provider)
	}
}

// Start brings up the cache sweeper, notifier, scheduler, and when
// configured, the proactive scan loop and file watcher.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.restoreCache()
	p.knowledge.Start(runCtx)
	p.notifier.Start(runCtx)
	if err := p.sched.Start(runCtx); err != nil {
		cancel()
		return err
	}

	if p.cfg.Gaps.ScanInterval.Std() > 0 {
		go p.scanLoop(runCtx)
	}
	if p.watchEnabled {
		watcher, err := gaps.NewWatcher(p.cfg.Gaps, p.analyzer, p.cfg.Workspace, p.enqueueGaps)
		if err != nil {
			cancel()
			return err
		}
		if err := watcher.Start(runCtx); err != nil {
			cancel()
			return err
		}
		p.watcher = watcher
	}

	p.started = true
	logging.Pipeline("pipeline started (workspace %s)", p.cfg.Workspace)
	return nil
}

// Stop shuts everything down in dependency order.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	watcher := p.watcher
	cancel := p.cancel
	p.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	p.sched.Stop()
	p.notifier.Stop()
	cancel()
	p.snapshotCache()
	p.knowledge.Close()
	if err := p.store.Close(); err != nil {
		logging.Get(logging.CategoryPipeline).Error("store close failed: %v", err)
	}
	logging.Pipeline("pipeline stopped")
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Submit classifies a query, returns cached knowledge when present, and
// otherwise schedules research. Cached responses never touch the executor.
func (p *Pipeline) Submit(ctx context.Context, query string, hints *types.ContextHints) (*SubmitResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if len(query) > maxQueryBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrQueryTooLarge, len(query))
	}

	req := p.classifier.Classify(ctx, query, hints)
	key := cache.KeyFor(req)

	if entry, ok := p.knowledge.Get(key); ok {
		logging.Pipeline("cache hit for %q (%d hits)", truncateQuery(query), entry.HitCount())
		return &SubmitResult{
			Request:  req,
			Cached:   true,
			Result:   entry.Result,
			HitCount: entry.HitCount(),
		}, nil
	}

	id, err := p.sched.EnqueueRequest(req)
	if err != nil {
		return nil, err
	}
	logging.Pipeline("scheduled research task %s for %q", id, truncateQuery(query))
	return &SubmitResult{Request: req, TaskID: id}, nil
}

// Status reports a scheduled task's current state.
func (p *Pipeline) Status(id uuid.UUID) (*types.ScheduledTask, error) {
	return p.sched.Status(id)
}

// Cancel stops a queued or running task.
func (p *Pipeline) Cancel(id uuid.UUID) error {
	return p.sched.Cancel(id)
}

// Search queries the cache across dimensions without recording hits.
func (p *Pipeline) Search(filter cache.Filter) []*cache.Entry {
	return p.knowledge.Search(filter)
}

// Subscribe opens a filtered notification stream.
func (p *Pipeline) Subscribe(prefs notify.Preferences) (<-chan types.NotificationEvent, func()) {
	return p.notifier.Subscribe(prefs)
}

// Deliveries returns the notification audit rows for a task.
func (p *Pipeline) Deliveries(id uuid.UUID) ([]store.DeliveryRecord, error) {
	return p.notifier.Report(id)
}

// Invalidate removes cache entries matching the selector. Admin-only; dry
// run previews without mutating. Removed entries also lose their vectors.
func (p *Pipeline) Invalidate(sel cache.Selector, dryRun, admin bool) (*cache.InvalidationReport, error) {
	if !admin {
		return nil, ErrPermission
	}
	report, err := p.knowledge.Invalidate(sel, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		for _, key := range report.Matched {
			if err := p.store.DeleteVector(key.String()); err != nil {
				logging.Get(logging.CategoryPipeline).Warn("vector delete failed for %s: %v", key, err)
			}
		}
		// Vectors persisted by earlier processes have no cache entry here;
		// sweep them by key pattern too.
		if glob := keyGlob(sel.Pattern); glob != "" {
			if n, err := p.store.DeleteVectorsMatching(glob); err != nil {
				logging.Get(logging.CategoryPipeline).Warn("vector sweep failed for %q: %v", glob, err)
			} else if n > 0 {
				logging.Pipeline("swept %d persisted vectors matching %q", n, glob)
			}
		}
	}
	return report, nil
}

// keyGlob translates a selector pattern into a glob over the canonical
// key string (topic:research_type:audience:domain:context).
func keyGlob(pattern string) string {
	dim, value, ok := strings.Cut(pattern, "=")
	if !ok {
		return pattern
	}
	switch dim {
	case "research_type":
		return "*:" + value + ":*:*:*"
	case "audience":
		return "*:*:" + value + ":*:*"
	case "domain":
		return "*:*:*:" + value + ":*"
	default:
		return ""
	}
}

// Stats snapshots cache and scheduler health.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cache:      p.knowledge.Stats(),
		QueueDepth: p.sched.QueueDepth(),
		Enqueued:   p.sched.Metrics.Enqueued.Load(),
		Completed:  p.sched.Metrics.Completed.Load(),
		Failed:     p.sched.Metrics.Failed.Load(),
		Retried:    p.sched.Metrics.Retried.Load(),
		Dropped:    p.sched.Metrics.DroppedProactive.Load(),
	}
}

func truncateQuery(q string) string {
	if len(q) > 80 {
		return q[:80] + "..."
	}
	return q
}
