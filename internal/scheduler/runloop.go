package scheduler

import (
	"context"
	"time"

	"curator/internal/cache"
	"curator/internal/executor"
	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// RUN LOOP
// =============================================================================

// Start recovers interrupted tasks and launches the dispatch loop.
// Non-blocking; Stop drains workers.
func (s *Scheduler) Start(ctx context.Context) error {
	recovered, err := s.tasks.RecoverInterrupted()
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, task := range recovered {
		task.Score = s.scorer.Score(task).Score
		s.queue.push(task)
		s.byFingerprint[task.Fingerprint] = task
		s.byID[task.ID] = task
	}
	s.mu.Unlock()
	if len(recovered) > 0 {
		logging.Scheduler("requeued %d interrupted tasks", len(recovered))
		s.kick()
	}

	go s.dispatch(ctx)
	return nil
}

// Stop ends dispatch and waits for in-flight workers up to the drain timeout.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Scheduler("drained cleanly")
	case <-time.After(s.cfg.DrainTimeout.Std()):
		logging.Get(logging.CategoryScheduler).Warn("drain timeout; abandoning in-flight workers")
	}
}

// dispatch pulls the highest-priority task whenever a worker slot is free.
// Slots are a semaphore channel sized to the concurrency bound.
func (s *Scheduler) dispatch(ctx context.Context) {
	slots := make(chan struct{}, s.cfg.MaxConcurrency)
	ticker := time.NewTicker(s.cfg.PollInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-ticker.C:
			s.rescoreQueued()
		}

		for {
			select {
			case slots <- struct{}{}:
			default:
				// All workers busy; wait for the next wake.
				goto idle
			}

			s.mu.Lock()
			task := s.queue.pop()
			s.mu.Unlock()
			if task == nil {
				<-slots
				goto idle
			}

			s.workers.Add(1)
			go func(task *types.ScheduledTask) {
				defer s.workers.Done()
				defer func() { <-slots }()
				s.runTask(ctx, task)
			}(task)
		}
	idle:
	}
}

// runTask drives one task through Running to a terminal state or a retry.
func (s *Scheduler) runTask(ctx context.Context, task *types.ScheduledTask) {
	s.mu.Lock()
	err := task.Transition(types.TaskRunning, "picked up")
	if err == nil {
		task.Attempts++
	}
	s.mu.Unlock()
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("cannot start task %s: %v", task.ID, err)
		return
	}
	if err := s.tasks.SaveTask(task); err != nil {
		logging.Get(logging.CategoryScheduler).Error("failed to persist task %s: %v", task.ID, err)
	}
	s.publish(task, types.EventStarted, task.Subject().RawQuery)
	logging.Scheduler("task %s running (attempt %d/%d)", task.ID, task.Attempts, s.cfg.MaxAttempts)

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutorTimeout.Std())
	s.mu.Lock()
	s.cancelRunning[task.ID] = cancel
	s.mu.Unlock()

	progressDone := make(chan struct{})
	go s.progressLoop(task, progressDone)

	result, err := s.exec.Execute(execCtx, task.Subject())

	close(progressDone)
	cancel()
	s.mu.Lock()
	delete(s.cancelRunning, task.ID)
	wasCancelled := s.cancelled[task.ID]
	delete(s.cancelled, task.ID)
	s.mu.Unlock()

	switch {
	case err == nil:
		s.complete(task, result)
	case wasCancelled:
		s.fail(task, "cancelled")
	case executor.Transient(err) && int(task.Attempts) < s.cfg.MaxAttempts:
		s.retry(ctx, task, err)
	default:
		s.fail(task, err.Error())
	}
}

// progressLoop emits throttleable progress events while the task runs. The
// notifier owns per-channel throttling; this just provides the heartbeat.
func (s *Scheduler) progressLoop(task *types.ScheduledTask, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.publish(task, types.EventProgress, "still running")
		}
	}
}

// complete writes the cache entry and finishes the task. The cache write is
// what makes re-execution after a crash idempotent from the caller's view.
func (s *Scheduler) complete(task *types.ScheduledTask, result *types.ResearchResult) {
	if task.Gap != nil {
		// Stamp the source location so gap analysis can treat this entry as
		// known knowledge about that file.
		if result.Metadata == nil {
			result.Metadata = make(map[string]string)
		}
		result.Metadata["location"] = task.Gap.Location
	}
	key := cache.KeyFor(task.Subject())
	entry := s.cache.Put(key, result, 0)

	s.mu.Lock()
	if err := task.Transition(types.TaskCompleted, ""); err != nil {
		logging.Get(logging.CategoryScheduler).Error("completion transition failed for %s: %v", task.ID, err)
	}
	delete(s.byFingerprint, task.Fingerprint)
	s.mu.Unlock()
	if err := s.tasks.SaveTask(task); err != nil {
		logging.Get(logging.CategoryScheduler).Error("failed to persist task %s: %v", task.ID, err)
	}

	if s.OnComplete != nil {
		s.OnComplete(task, key, result)
	}

	s.Metrics.Completed.Add(1)
	s.publish(task, types.EventCompleted, result.Summary)
	logging.Scheduler("task %s completed (entry %d bytes, quality %.2f)", task.ID, entry.SizeBytes, entry.QualityScore)
}

// retry sends the task back through Failed into Retrying and requeues it
// after exponential backoff.
func (s *Scheduler) retry(ctx context.Context, task *types.ScheduledTask, cause error) {
	s.mu.Lock()
	err := task.Transition(types.TaskFailed, cause.Error())
	if err == nil {
		task.LastError = cause.Error()
		err = task.Transition(types.TaskRetrying, "retry scheduled")
	}
	s.mu.Unlock()
	if err != nil {
		logging.Get(logging.CategoryScheduler).Error("retry transition failed for %s: %v", task.ID, err)
		return
	}
	if err := s.tasks.SaveTask(task); err != nil {
		logging.Get(logging.CategoryScheduler).Error("failed to persist task %s: %v", task.ID, err)
	}

	backoff := s.backoff(int(task.Attempts))
	s.Metrics.Retried.Add(1)
	logging.Scheduler("task %s retrying in %s (attempt %d/%d): %v", task.ID, backoff, task.Attempts, s.cfg.MaxAttempts, cause)

	timer := time.AfterFunc(backoff, func() {
		s.mu.Lock()
		// The task may have been cancelled during the backoff window; only a
		// task still waiting on its retry goes back into the queue.
		if task.State != types.TaskRetrying {
			s.mu.Unlock()
			return
		}
		s.queue.push(task)
		s.mu.Unlock()
		s.kick()
	})
	go func() {
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
		case <-time.After(backoff + time.Second):
		}
	}()
}

// fail moves the task to terminal Failed and surfaces the event.
func (s *Scheduler) fail(task *types.ScheduledTask, reason string) {
	s.mu.Lock()
	if err := task.Transition(types.TaskFailed, reason); err != nil {
		logging.Get(logging.CategoryScheduler).Error("fail transition failed for %s: %v", task.ID, err)
	}
	task.LastError = reason
	delete(s.byFingerprint, task.Fingerprint)
	s.mu.Unlock()
	if err := s.tasks.SaveTask(task); err != nil {
		logging.Get(logging.CategoryScheduler).Error("failed to persist task %s: %v", task.ID, err)
	}
	s.Metrics.Failed.Add(1)
	s.publish(task, types.EventFailed, reason)
	logging.Scheduler("task %s failed: %s", task.ID, reason)
}

// rescoreQueued refreshes the priority snapshots of waiting tasks so
// staleness keeps long-queued work rising.
func (s *Scheduler) rescoreQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return
	}
	for _, task := range s.queue.items {
		task.Score = s.scorer.Score(task).Score
	}
	s.queue.rescore()
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.InitialBackoff.Std()
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff.Std() {
			return s.cfg.MaxBackoff.Std()
		}
	}
	if d > s.cfg.MaxBackoff.Std() {
		return s.cfg.MaxBackoff.Std()
	}
	return d
}
