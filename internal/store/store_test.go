package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "curator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTask(state types.TaskState) *types.ScheduledTask {
	req := &types.ClassifiedRequest{
		RawQuery:     "how do I implement async retries",
		ResearchType: types.ResearchImplementation,
		Audience:     types.AudienceIntermediate,
		Domain:       "async",
		Urgency:      types.UrgencyMedium,
		Confidence:   0.7,
	}
	return &types.ScheduledTask{
		ID:          uuid.New(),
		Fingerprint: types.RequestFingerprint(req),
		Source:      types.SourceOnDemand,
		Request:     req,
		State:       state,
		EnqueuedAt:  time.Now().Truncate(time.Millisecond),
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := testStore(t)
	task := testTask(types.TaskQueued)
	require.NoError(t, s.SaveTask(task))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Fingerprint, got.Fingerprint)
	assert.Equal(t, types.TaskQueued, got.State)
	require.NotNil(t, got.Request)
	assert.Equal(t, "async", got.Request.Domain)
}

func TestGetTaskNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetTask(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveTaskByFingerprint(t *testing.T) {
	s := testStore(t)
	task := testTask(types.TaskQueued)
	require.NoError(t, s.SaveTask(task))

	got, err := s.ActiveTaskByFingerprint(task.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	// Completed tasks no longer count as active.
	require.NoError(t, task.Transition(types.TaskRunning, ""))
	require.NoError(t, task.Transition(types.TaskCompleted, ""))
	require.NoError(t, s.SaveTask(task))

	_, err = s.ActiveTaskByFingerprint(task.Fingerprint)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecoverInterrupted(t *testing.T) {
	s := testStore(t)

	queued := testTask(types.TaskQueued)
	require.NoError(t, s.SaveTask(queued))

	running := testTask(types.TaskQueued)
	require.NoError(t, running.Transition(types.TaskRunning, "picked up"))
	require.NoError(t, s.SaveTask(running))

	done := testTask(types.TaskQueued)
	require.NoError(t, done.Transition(types.TaskRunning, "picked up"))
	require.NoError(t, done.Transition(types.TaskCompleted, "done"))
	require.NoError(t, s.SaveTask(done))

	recovered, err := s.RecoverInterrupted()
	require.NoError(t, err)
	require.Len(t, recovered, 2)

	states := make(map[uuid.UUID]types.TaskState, len(recovered))
	for _, task := range recovered {
		states[task.ID] = task.State
	}
	// A queued task reloads untouched; an interrupted one moves to Retrying.
	assert.Equal(t, types.TaskQueued, states[queued.ID])
	assert.Equal(t, types.TaskRetrying, states[running.ID])
	assert.NotContains(t, states, done.ID)

	// The crash is visible in the persisted audit trail.
	got, err := s.GetTask(running.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskRetrying, got.State)
	reasons := make([]string, 0, len(got.History))
	for _, h := range got.History {
		reasons = append(reasons, h.Reason)
	}
	assert.Contains(t, reasons, "interrupted by restart")
}

func TestPruneCompleted(t *testing.T) {
	s := testStore(t)
	task := testTask(types.TaskQueued)
	require.NoError(t, task.Transition(types.TaskRunning, ""))
	require.NoError(t, task.Transition(types.TaskCompleted, ""))
	require.NoError(t, s.SaveTask(task))

	n, err := s.PruneCompleted(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetTask(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryLogUpsert(t *testing.T) {
	s := testStore(t)
	taskID := uuid.New()

	require.NoError(t, s.RecordDelivery(DeliveryRecord{
		TaskID: taskID, Channel: "webhook", Kind: types.EventStarted,
		Attempts: 1, Delivered: false, LastError: "connection refused",
	}))
	require.NoError(t, s.RecordDelivery(DeliveryRecord{
		TaskID: taskID, Channel: "webhook", Kind: types.EventCompleted,
		Attempts: 2, Delivered: true,
	}))
	require.NoError(t, s.RecordDelivery(DeliveryRecord{
		TaskID: taskID, Channel: "cli", Kind: types.EventCompleted,
		Attempts: 1, Delivered: true,
	}))

	recs, err := s.DeliveriesForTask(taskID)
	require.NoError(t, err)
	require.Len(t, recs, 2) // one row per (task, channel)
	for _, rec := range recs {
		assert.True(t, rec.Delivered)
		assert.Equal(t, types.EventCompleted, rec.Kind)
	}
}

func TestVectorNearest(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.UpsertVector("key-a", "goroutine pools", []float32{1, 0, 0}))
	require.NoError(t, s.UpsertVector("key-b", "channel select", []float32{0.9, 0.1, 0}))
	require.NoError(t, s.UpsertVector("key-c", "rust lifetimes", []float32{0, 0, 1}))

	matches, err := s.Nearest([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "key-a", matches[0].CacheKey)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
	assert.Equal(t, "key-b", matches[1].CacheKey)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestVectorUpsertReplaces(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.UpsertVector("key-a", "v1", []float32{1, 0}))
	require.NoError(t, s.UpsertVector("key-a", "v2", []float32{0, 1}))

	matches, err := s.Nearest([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
}

func TestVectorRejectsEmpty(t *testing.T) {
	s := testStore(t)
	assert.Error(t, s.UpsertVector("key", "content", nil))
}

func TestCacheSnapshotReplacesPrevious(t *testing.T) {
	s := testStore(t)
	future := time.Now().Add(time.Hour)

	require.NoError(t, s.SaveCacheSnapshot([]CacheRow{
		{Key: "old-key", Payload: []byte(`{"v":1}`), ExpiresAt: future},
	}))
	require.NoError(t, s.SaveCacheSnapshot([]CacheRow{
		{Key: "key-a", Payload: []byte(`{"v":2}`), ExpiresAt: future},
		{Key: "key-b", Payload: []byte(`{"v":3}`), ExpiresAt: future},
	}))

	rows, err := s.LoadCacheSnapshot()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	keys := []string{rows[0].Key, rows[1].Key}
	assert.ElementsMatch(t, []string{"key-a", "key-b"}, keys)
	for _, row := range rows {
		assert.NotEmpty(t, row.Payload)
	}
}

func TestLoadCacheSnapshotDropsExpired(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveCacheSnapshot([]CacheRow{
		{Key: "stale", Payload: []byte(`{}`), ExpiresAt: time.Now().Add(-time.Minute)},
		{Key: "fresh", Payload: []byte(`{}`), ExpiresAt: time.Now().Add(time.Minute)},
	}))

	rows, err := s.LoadCacheSnapshot()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].Key)
}
