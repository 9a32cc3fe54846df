package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"curator/internal/cache"
	"curator/internal/config"
	"curator/internal/executor"
	"curator/internal/priority"
	"curator/internal/store"
	"curator/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// opencensus starts a background worker at package init via a
		// transitive dependency; it is not leaked by scheduler code.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// eventSink records published notification events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []types.NotificationEvent
}

func (e *eventSink) Publish(ev types.NotificationEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventSink) kinds(id uuid.UUID) []types.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.EventKind
	for _, ev := range e.events {
		if ev.TaskID == id {
			out = append(out, ev.Kind)
		}
	}
	return out
}

type fixture struct {
	sched *Scheduler
	tasks *store.Store
	cache *cache.Store
	sink  *eventSink
}

func fastSchedulerConfig() config.SchedulerConfig {
	cfg := config.Default().Scheduler
	cfg.PollInterval = config.Duration(10 * time.Millisecond)
	cfg.InitialBackoff = config.Duration(10 * time.Millisecond)
	cfg.MaxBackoff = config.Duration(50 * time.Millisecond)
	cfg.ExecutorTimeout = config.Duration(2 * time.Second)
	cfg.DrainTimeout = config.Duration(5 * time.Second)
	return cfg
}

func newFixture(t *testing.T, cfg config.SchedulerConfig, exec executor.ResearchExecutor) *fixture {
	t.Helper()
	tasks, err := store.New(filepath.Join(t.TempDir(), "curator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })

	scorer, err := priority.NewScorer(config.Default().Priority)
	require.NoError(t, err)

	knowledge := cache.New(config.Default().Cache)
	sink := &eventSink{}
	return &fixture{
		sched: New(cfg, tasks, scorer, exec, knowledge, sink),
		tasks: tasks,
		cache: knowledge,
		sink:  sink,
	}
}

func request(query string) *types.ClassifiedRequest {
	return &types.ClassifiedRequest{
		RawQuery:     query,
		ResearchType: types.ResearchImplementation,
		Audience:     types.AudienceIntermediate,
		Domain:       "go",
		Urgency:      types.UrgencyMedium,
		Confidence:   0.8,
	}
}

func gap(location string) *types.KnowledgeGap {
	return &types.KnowledgeGap{
		GapType:      types.GapMissing,
		Location:     location,
		Reason:       "todo_comment",
		BasePriority: 5,
		DetectedAt:   time.Now(),
	}
}

func waitForState(t *testing.T, f *fixture, id uuid.UUID, want types.TaskState) *types.ScheduledTask {
	t.Helper()
	var task *types.ScheduledTask
	require.Eventually(t, func() bool {
		var err error
		task, err = f.sched.Status(id)
		return err == nil && task.State == want
	}, 5*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return task
}

func TestEnqueueIsIdempotentByFingerprint(t *testing.T) {
	f := newFixture(t, fastSchedulerConfig(), &executor.StubExecutor{})

	first, err := f.sched.EnqueueRequest(request("how do goroutines leak"))
	require.NoError(t, err)
	second, err := f.sched.EnqueueRequest(request("How do goroutines LEAK  "))
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical subjects must share one task")
	assert.Equal(t, 1, f.sched.QueueDepth())
	assert.Equal(t, uint64(1), f.sched.Metrics.Deduplicated.Load())
}

func TestQueueOrdersByScoreThenFIFO(t *testing.T) {
	q := &taskQueue{}
	base := time.Now()

	older := &types.ScheduledTask{ID: uuid.New(), Score: 0.5, EnqueuedAt: base}
	newer := &types.ScheduledTask{ID: uuid.New(), Score: 0.5, EnqueuedAt: base.Add(time.Second)}
	urgent := &types.ScheduledTask{ID: uuid.New(), Score: 0.9, EnqueuedAt: base.Add(2 * time.Second)}

	q.push(newer)
	q.push(urgent)
	q.push(older)

	assert.Equal(t, urgent.ID, q.pop().ID, "highest score first")
	assert.Equal(t, older.ID, q.pop().ID, "FIFO breaks the tie")
	assert.Equal(t, newer.ID, q.pop().ID)
	assert.Nil(t, q.pop())
}

func TestBackpressureDropsProactiveOnly(t *testing.T) {
	cfg := fastSchedulerConfig()
	cfg.MaxQueueDepth = 1
	f := newFixture(t, cfg, &executor.StubExecutor{})

	_, err := f.sched.EnqueueGap(gap("a.go"))
	require.NoError(t, err)

	_, err = f.sched.EnqueueGap(gap("b.go"))
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Equal(t, uint64(1), f.sched.Metrics.DroppedProactive.Load())

	// On-demand work is never dropped.
	_, err = f.sched.EnqueueRequest(request("urgent user question"))
	assert.NoError(t, err)
}

func TestTaskRunsToCompletionAndCaches(t *testing.T) {
	f := newFixture(t, fastSchedulerConfig(), &executor.StubExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	req := request("explain context cancellation")
	id, err := f.sched.EnqueueRequest(req)
	require.NoError(t, err)

	task := waitForState(t, f, id, types.TaskCompleted)
	assert.Equal(t, uint32(1), task.Attempts)

	entry, ok := f.cache.Get(cache.KeyFor(req))
	require.True(t, ok, "completed research must land in the cache")
	assert.NotEmpty(t, entry.Result.Content)

	kinds := f.sink.kinds(id)
	assert.Contains(t, kinds, types.EventStarted)
	assert.Equal(t, types.EventCompleted, kinds[len(kinds)-1])
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	exec := &executor.StubExecutor{Fail: func(*types.ClassifiedRequest) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return executor.Transientf("upstream flaked")
		}
		return nil
	}}
	f := newFixture(t, fastSchedulerConfig(), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	id, err := f.sched.EnqueueRequest(request("flaky upstream"))
	require.NoError(t, err)

	task := waitForState(t, f, id, types.TaskCompleted)
	assert.Equal(t, uint32(3), task.Attempts)
	assert.GreaterOrEqual(t, f.sched.Metrics.Retried.Load(), uint64(2))

	// The audit trail shows the Failed -> Retrying revivals.
	var revivals int
	for _, change := range task.History {
		if change.From == types.TaskFailed && change.To == types.TaskRetrying {
			revivals++
		}
	}
	assert.Equal(t, 2, revivals)
}

func TestAttemptBudgetExhaustionFailsTerminally(t *testing.T) {
	cfg := fastSchedulerConfig()
	cfg.MaxAttempts = 2
	exec := &executor.StubExecutor{Fail: func(*types.ClassifiedRequest) error {
		return executor.Transientf("always down")
	}}
	f := newFixture(t, cfg, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	id, err := f.sched.EnqueueRequest(request("doomed"))
	require.NoError(t, err)

	task := waitForState(t, f, id, types.TaskFailed)
	assert.Equal(t, uint32(2), task.Attempts)
	assert.Contains(t, task.LastError, "always down")
	assert.Equal(t, uint64(1), f.sched.Metrics.Failed.Load())
}

func TestFatalErrorDoesNotRetry(t *testing.T) {
	exec := &executor.StubExecutor{Fail: func(*types.ClassifiedRequest) error {
		return executor.Fatalf("malformed subject")
	}}
	f := newFixture(t, fastSchedulerConfig(), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	id, err := f.sched.EnqueueRequest(request("bad input"))
	require.NoError(t, err)

	task := waitForState(t, f, id, types.TaskFailed)
	assert.Equal(t, uint32(1), task.Attempts)
	assert.Zero(t, f.sched.Metrics.Retried.Load())
}

func TestCompletionReleasesFingerprint(t *testing.T) {
	f := newFixture(t, fastSchedulerConfig(), &executor.StubExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	first, err := f.sched.EnqueueRequest(request("repeatable question"))
	require.NoError(t, err)
	waitForState(t, f, first, types.TaskCompleted)

	second, err := f.sched.EnqueueRequest(request("repeatable question"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "terminal tasks no longer absorb enqueues")
}

func TestCancelQueuedTask(t *testing.T) {
	f := newFixture(t, fastSchedulerConfig(), &executor.StubExecutor{})

	id, err := f.sched.EnqueueRequest(request("never runs"))
	require.NoError(t, err)
	require.NoError(t, f.sched.Cancel(id))

	assert.Equal(t, 0, f.sched.QueueDepth())
	task, err := f.tasks.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.State)
	assert.Equal(t, "cancelled", task.LastError)

	assert.ErrorIs(t, f.sched.Cancel(uuid.New()), ErrNotFound)
}

func TestCancelRunningTaskIsCooperative(t *testing.T) {
	f := newFixture(t, fastSchedulerConfig(), &executor.StubExecutor{Delay: 30 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	id, err := f.sched.EnqueueRequest(request("long running"))
	require.NoError(t, err)
	waitForState(t, f, id, types.TaskRunning)

	require.NoError(t, f.sched.Cancel(id))
	task := waitForState(t, f, id, types.TaskFailed)
	assert.Equal(t, "cancelled", task.LastError)
}

func TestRestartRecoversInterruptedTasks(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "curator.db")

	// Simulate a crash: a task persisted mid-flight, never completed.
	tasks, err := store.New(dbPath)
	require.NoError(t, err)
	interrupted := &types.ScheduledTask{
		ID:          uuid.New(),
		Fingerprint: types.RequestFingerprint(request("survive restarts")),
		Source:      types.SourceOnDemand,
		Request:     request("survive restarts"),
		State:       types.TaskQueued,
		EnqueuedAt:  time.Now(),
	}
	require.NoError(t, interrupted.Transition(types.TaskRunning, "picked up"))
	interrupted.Attempts = 1
	require.NoError(t, tasks.SaveTask(interrupted))
	require.NoError(t, tasks.Close())

	tasks, err = store.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })

	scorer, err := priority.NewScorer(config.Default().Priority)
	require.NoError(t, err)
	knowledge := cache.New(config.Default().Cache)
	sink := &eventSink{}
	sched := New(fastSchedulerConfig(), tasks, scorer, &executor.StubExecutor{}, knowledge, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	f := &fixture{sched: sched, tasks: tasks, cache: knowledge, sink: sink}
	task := waitForState(t, f, interrupted.ID, types.TaskCompleted)
	assert.GreaterOrEqual(t, task.Attempts, uint32(2), "recovered run is a fresh attempt")

	_, ok := knowledge.Get(cache.KeyFor(request("survive restarts")))
	assert.True(t, ok, "at-least-once: the recovered run still produces the result")
}

func TestRestartReloadsQueuedTasks(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "curator.db")

	// A prior process persisted the task but exited before dispatching it.
	tasks, err := store.New(dbPath)
	require.NoError(t, err)
	queued := &types.ScheduledTask{
		ID:          uuid.New(),
		Fingerprint: types.RequestFingerprint(request("waiting in line")),
		Source:      types.SourceOnDemand,
		Request:     request("waiting in line"),
		State:       types.TaskQueued,
		EnqueuedAt:  time.Now(),
	}
	require.NoError(t, tasks.SaveTask(queued))
	require.NoError(t, tasks.Close())

	tasks, err = store.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { tasks.Close() })

	scorer, err := priority.NewScorer(config.Default().Priority)
	require.NoError(t, err)
	knowledge := cache.New(config.Default().Cache)
	sink := &eventSink{}
	sched := New(fastSchedulerConfig(), tasks, scorer,
		&executor.StubExecutor{Delay: 300 * time.Millisecond}, knowledge, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	// The fingerprint index is rebuilt too: re-enqueueing the same subject
	// before completion lands on the reloaded task.
	id, err := sched.EnqueueRequest(request("waiting in line"))
	require.NoError(t, err)
	assert.Equal(t, queued.ID, id)

	f := &fixture{sched: sched, tasks: tasks, cache: knowledge, sink: sink}
	waitForState(t, f, queued.ID, types.TaskCompleted)

	_, ok := knowledge.Get(cache.KeyFor(request("waiting in line")))
	assert.True(t, ok, "reloaded task must run to completion")
}

func TestCancelDuringRetryBackoffStaysCancelled(t *testing.T) {
	cfg := fastSchedulerConfig()
	cfg.InitialBackoff = config.Duration(200 * time.Millisecond)
	cfg.MaxBackoff = config.Duration(200 * time.Millisecond)

	exec := &executor.StubExecutor{Fail: func(*types.ClassifiedRequest) error {
		return executor.Transientf("always down")
	}}
	f := newFixture(t, cfg, exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	defer f.sched.Stop()

	id, err := f.sched.EnqueueRequest(request("cancel me mid backoff"))
	require.NoError(t, err)

	waitForState(t, f, id, types.TaskRetrying)
	require.NoError(t, f.sched.Cancel(id))

	task := waitForState(t, f, id, types.TaskFailed)
	assert.Equal(t, "cancelled", task.LastError)
	attempts := task.Attempts

	// Outlive the backoff window: the pending retry timer must not revive
	// the cancelled task.
	time.Sleep(3 * cfg.InitialBackoff.Std())
	assert.Equal(t, 0, f.sched.QueueDepth())
	task, err = f.sched.Status(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.State)
	assert.Equal(t, attempts, task.Attempts, "no further attempts after cancel")
}
