package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// TASK PERSISTENCE
// =============================================================================

// SaveTask upserts the full task row. The payload column carries the complete
// task JSON (request/gap subject, history) while the scalar columns exist for
// indexed queries.
func (s *Store) SaveTask(task *types.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	var completedAt sql.NullInt64
	if task.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: task.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, fingerprint, source, state, attempts, score, enqueued_at, completed_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			score = excluded.score,
			completed_at = excluded.completed_at,
			payload = excluded.payload`,
		task.ID.String(), task.Fingerprint, string(task.Source), string(task.State),
		task.Attempts, task.Score, task.EnqueuedAt.UnixMilli(), completedAt, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(id uuid.UUID) (*types.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM tasks WHERE id = ?`, id.String()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return unmarshalTask(payload)
}

// ActiveTaskByFingerprint returns the queued, running or retrying task for
// the fingerprint, if any. Backs the idempotent-enqueue check.
func (s *Store) ActiveTaskByFingerprint(fp string) (*types.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`
		SELECT payload FROM tasks
		WHERE fingerprint = ? AND state IN ('queued', 'running', 'retrying')
		ORDER BY enqueued_at LIMIT 1`, fp).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint %s: %w", fp, err)
	}
	return unmarshalTask(payload)
}

// TasksByState returns all tasks in the given state, oldest first.
func (s *Store) TasksByState(state types.TaskState) ([]*types.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT payload FROM tasks WHERE state = ? ORDER BY enqueued_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by state %s: %w", state, err)
	}
	defer rows.Close()

	var out []*types.ScheduledTask
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		task, err := unmarshalTask(payload)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping corrupt task row: %v", err)
			continue
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// RecoverInterrupted reloads every non-terminal task a prior process left
// behind. Queued and Retrying tasks come back as they were; tasks left
// Running move into Retrying (via Failed, so the audit trail records the
// crash). Called once at startup before the run loop begins.
func (s *Store) RecoverInterrupted() ([]*types.ScheduledTask, error) {
	recovered, err := s.TasksByState(types.TaskQueued)
	if err != nil {
		return nil, err
	}
	retrying, err := s.TasksByState(types.TaskRetrying)
	if err != nil {
		return nil, err
	}
	recovered = append(recovered, retrying...)

	running, err := s.TasksByState(types.TaskRunning)
	if err != nil {
		return nil, err
	}
	for _, task := range running {
		if err := task.Transition(types.TaskFailed, "interrupted by restart"); err != nil {
			logging.Get(logging.CategoryStore).Warn("recovery transition failed for %s: %v", task.ID, err)
			continue
		}
		if err := task.Transition(types.TaskRetrying, "requeued after restart"); err != nil {
			logging.Get(logging.CategoryStore).Warn("recovery transition failed for %s: %v", task.ID, err)
			continue
		}
		if err := s.SaveTask(task); err != nil {
			return nil, err
		}
		recovered = append(recovered, task)
	}
	if len(recovered) > 0 {
		logging.Store("recovered %d interrupted tasks", len(recovered))
	}
	return recovered, nil
}

// PruneCompleted deletes terminal tasks older than the cutoff. Returns the
// number removed.
func (s *Store) PruneCompleted(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		DELETE FROM tasks
		WHERE state IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < ?`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tasks: %w", err)
	}
	return res.RowsAffected()
}

func unmarshalTask(payload string) (*types.ScheduledTask, error) {
	var task types.ScheduledTask
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return &task, nil
}
