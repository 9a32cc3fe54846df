// Package scheduler owns the research task lifecycle: a persisted state
// machine, a priority queue with FIFO tie-breaks, a bounded worker pool, and
// retry with exponential backoff. Enqueue is idempotent by subject
// fingerprint; interrupted tasks are requeued on startup for at-least-once
// execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"curator/internal/cache"
	"curator/internal/config"
	"curator/internal/executor"
	"curator/internal/logging"
	"curator/internal/priority"
	"curator/internal/store"
	"curator/internal/types"
)

// ErrBackpressure is returned when a proactive enqueue is dropped because the
// queue is at depth. On-demand enqueues are never dropped.
var ErrBackpressure = errors.New("scheduler: queue at depth, proactive enqueue dropped")

// ErrNotFound is returned by Cancel and Status for unknown task ids.
var ErrNotFound = errors.New("scheduler: task not found")

// Publisher receives lifecycle events. Satisfied by the notifier; publish is
// fire-and-forget from the scheduler's point of view.
type Publisher interface {
	Publish(event types.NotificationEvent)
}

// Metrics counts scheduler activity. Read with atomic loads.
type Metrics struct {
	Enqueued         atomic.Uint64
	Deduplicated     atomic.Uint64
	DroppedProactive atomic.Uint64
	Completed        atomic.Uint64
	Failed           atomic.Uint64
	Retried          atomic.Uint64
}

// Scheduler runs research tasks.
type Scheduler struct {
	cfg    config.SchedulerConfig
	tasks  *store.Store
	scorer *priority.Scorer
	exec   executor.ResearchExecutor
	cache  *cache.Store
	pub    Publisher

	// OnComplete, when set, runs after a successful cache write. The pipeline
	// uses it to index the result's embedding.
	OnComplete func(task *types.ScheduledTask, key cache.Key, result *types.ResearchResult)

	mu            sync.Mutex
	queue         *taskQueue
	byFingerprint map[string]*types.ScheduledTask // queued or running
	byID          map[uuid.UUID]*types.ScheduledTask
	cancelRunning map[uuid.UUID]context.CancelFunc
	cancelled     map[uuid.UUID]bool

	wake    chan struct{}
	stopCh  chan struct{}
	stopped sync.Once
	workers sync.WaitGroup

	Metrics Metrics
}

// New builds a scheduler. pub may be nil (events are then dropped).
func New(cfg config.SchedulerConfig, tasks *store.Store, scorer *priority.Scorer,
	exec executor.ResearchExecutor, knowledge *cache.Store, pub Publisher) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		tasks:         tasks,
		scorer:        scorer,
		exec:          exec,
		cache:         knowledge,
		pub:           pub,
		queue:         &taskQueue{},
		byFingerprint: make(map[string]*types.ScheduledTask),
		byID:          make(map[uuid.UUID]*types.ScheduledTask),
		cancelRunning: make(map[uuid.UUID]context.CancelFunc),
		cancelled:     make(map[uuid.UUID]bool),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// =============================================================================
// ENQUEUE / CANCEL / STATUS
// =============================================================================

// EnqueueRequest schedules an on-demand research task. Idempotent: a subject
// already queued or running returns the existing task id.
func (s *Scheduler) EnqueueRequest(req *types.ClassifiedRequest) (uuid.UUID, error) {
	task := &types.ScheduledTask{
		ID:          uuid.New(),
		Fingerprint: types.RequestFingerprint(req),
		Source:      types.SourceOnDemand,
		Request:     req,
		State:       types.TaskQueued,
		EnqueuedAt:  time.Now(),
	}
	return s.enqueue(task)
}

// EnqueueGap schedules a proactive gap-filling task. Subject to backpressure:
// at queue depth the enqueue is dropped with ErrBackpressure.
func (s *Scheduler) EnqueueGap(gap *types.KnowledgeGap) (uuid.UUID, error) {
	task := &types.ScheduledTask{
		ID:          uuid.New(),
		Fingerprint: gap.Fingerprint(),
		Source:      types.SourceProactive,
		Gap:         gap,
		State:       types.TaskQueued,
		EnqueuedAt:  time.Now(),
	}
	return s.enqueue(task)
}

func (s *Scheduler) enqueue(task *types.ScheduledTask) (uuid.UUID, error) {
	s.mu.Lock()

	if existing, ok := s.byFingerprint[task.Fingerprint]; ok {
		s.mu.Unlock()
		s.Metrics.Deduplicated.Add(1)
		logging.SchedulerDebug("enqueue deduplicated onto task %s (fingerprint %s)", existing.ID, task.Fingerprint)
		return existing.ID, nil
	}

	if task.Source == types.SourceProactive && s.queue.Len() >= s.cfg.MaxQueueDepth {
		s.mu.Unlock()
		s.Metrics.DroppedProactive.Add(1)
		logging.Get(logging.CategoryScheduler).Warn(
			"queue at depth %d, dropping proactive enqueue for %s", s.cfg.MaxQueueDepth, task.Fingerprint)
		return uuid.Nil, ErrBackpressure
	}

	task.Score = s.scorer.Score(task).Score
	s.queue.push(task)
	s.byFingerprint[task.Fingerprint] = task
	s.byID[task.ID] = task
	s.mu.Unlock()

	if err := s.tasks.SaveTask(task); err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist task: %w", err)
	}

	s.Metrics.Enqueued.Add(1)
	logging.Scheduler("enqueued %s task %s (score %.3f)", task.Source, task.ID, task.Score)
	s.kick()
	return task.ID, nil
}

// Cancel removes a queued task immediately; for a running task it requests
// cooperative cancellation, which takes effect when the executor call next
// observes its context.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	task, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	switch task.State {
	case types.TaskQueued, types.TaskRetrying:
		s.queue.remove(task)
		delete(s.byFingerprint, task.Fingerprint)
		delete(s.byID, id)
		// Transition under the lock so a pending retry timer never observes
		// the task still Retrying after cancellation.
		err := task.Transition(types.TaskFailed, "cancelled")
		if err == nil {
			task.LastError = "cancelled"
		}
		s.mu.Unlock()

		if err != nil {
			return err
		}
		if err := s.tasks.SaveTask(task); err != nil {
			return err
		}
		s.publish(task, types.EventFailed, "cancelled")
		logging.Scheduler("cancelled queued task %s", id)
		return nil

	case types.TaskRunning:
		s.cancelled[id] = true
		if cancel, ok := s.cancelRunning[id]; ok {
			cancel()
		}
		s.mu.Unlock()
		logging.Scheduler("requested cooperative cancel of running task %s", id)
		return nil

	default:
		s.mu.Unlock()
		return fmt.Errorf("task %s already %s: %w", id, task.State, ErrNotFound)
	}
}

// Status returns the task as last persisted. Every transition is saved
// before it is observable, so the store is the authoritative view.
func (s *Scheduler) Status(id uuid.UUID) (*types.ScheduledTask, error) {
	task, err := s.tasks.GetTask(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return task, err
}

// QueueDepth returns the number of waiting tasks.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) publish(task *types.ScheduledTask, kind types.EventKind, message string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(types.NotificationEvent{
		TaskID:    task.ID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	})
}
