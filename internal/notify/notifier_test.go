package notify

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/config"
	"curator/internal/store"
	"curator/internal/types"
)

func fastNotifyConfig() config.NotifyConfig {
	cfg := config.Default().Notify
	cfg.ProgressInterval = config.Duration(50 * time.Millisecond)
	cfg.DeliveryTimeout = config.Duration(time.Second)
	cfg.RetryBackoff = config.Duration(10 * time.Millisecond)
	return cfg
}

func event(id uuid.UUID, kind types.EventKind, msg string) types.NotificationEvent {
	return types.NotificationEvent{TaskID: id, Kind: kind, Message: msg, Timestamp: time.Now()}
}

func startNotifier(t *testing.T, cfg config.NotifyConfig, log *store.Store) *Notifier {
	t.Helper()
	n := New(cfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	n.Start(ctx)
	t.Cleanup(func() {
		n.Stop()
		cancel()
	})
	return n
}

func TestSubscriberReceivesLifecycleInOrder(t *testing.T) {
	n := startNotifier(t, fastNotifyConfig(), nil)
	events, cancel := n.Subscribe(Preferences{})
	defer cancel()

	id := uuid.New()
	n.Publish(event(id, types.EventStarted, "off we go"))
	n.Publish(event(id, types.EventCompleted, "done"))

	first := <-events
	second := <-events
	assert.Equal(t, types.EventStarted, first.Kind)
	assert.Equal(t, types.EventCompleted, second.Kind)
}

func TestPreferencesFilterKindAndTask(t *testing.T) {
	n := startNotifier(t, fastNotifyConfig(), nil)

	mine := uuid.New()
	other := uuid.New()
	events, cancel := n.Subscribe(Preferences{
		Kinds:  []types.EventKind{types.EventCompleted},
		TaskID: mine,
	})
	defer cancel()

	n.Publish(event(other, types.EventCompleted, "someone else"))
	n.Publish(event(mine, types.EventStarted, "filtered kind"))
	n.Publish(event(mine, types.EventCompleted, "the one"))

	got := <-events
	assert.Equal(t, mine, got.TaskID)
	assert.Equal(t, "the one", got.Message)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProgressThrottling(t *testing.T) {
	n := startNotifier(t, fastNotifyConfig(), nil)
	events, cancel := n.Subscribe(Preferences{})
	defer cancel()

	id := uuid.New()
	n.Publish(event(id, types.EventProgress, "tick 1"))
	n.Publish(event(id, types.EventProgress, "tick 2"))
	n.Publish(event(id, types.EventProgress, "tick 3"))

	got := <-events
	assert.Equal(t, "tick 1", got.Message)
	select {
	case ev := <-events:
		t.Fatalf("progress within the interval must be throttled, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// Interval elapsed inside the wait above; a fresh tick passes.
	n.Publish(event(id, types.EventProgress, "tick 4"))
	got = <-events
	assert.Equal(t, "tick 4", got.Message)
}

func TestSlowSubscriberKeepsTerminalEvents(t *testing.T) {
	cfg := fastNotifyConfig()
	cfg.ChannelBuffer = 2
	cfg.ProgressInterval = config.Duration(0)
	n := startNotifier(t, cfg, nil)

	// Nobody reads from this stream until the end.
	events, cancel := n.Subscribe(Preferences{})
	defer cancel()

	id := uuid.New()
	n.Publish(event(id, types.EventStarted, "start"))
	for i := 0; i < 10; i++ {
		n.Publish(event(uuid.New(), types.EventProgress, "noise"))
	}
	n.Publish(event(id, types.EventCompleted, "the verdict"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == types.EventCompleted {
				assert.Equal(t, id, ev.TaskID)
				return
			}
		case <-deadline:
			t.Fatal("terminal event was lost under pressure")
		}
	}
}

func TestOfferEvictsOldestProgressFirst(t *testing.T) {
	ch := make(chan types.NotificationEvent, 2)

	_, sent := offer(ch, event(uuid.New(), types.EventProgress, "one"))
	require.True(t, sent)
	_, sent = offer(ch, event(uuid.New(), types.EventProgress, "two"))
	require.True(t, sent)

	dropped, sent := offer(ch, event(uuid.New(), types.EventProgress, "three"))
	require.True(t, sent)
	require.NotNil(t, dropped)
	assert.Equal(t, "one", dropped.Message)

	assert.Equal(t, "two", (<-ch).Message)
	assert.Equal(t, "three", (<-ch).Message)
}

func TestOfferNeverTradesTerminalForProgress(t *testing.T) {
	ch := make(chan types.NotificationEvent, 2)
	taskA, taskB := uuid.New(), uuid.New()

	offer(ch, event(taskA, types.EventCompleted, "verdict a"))
	offer(ch, event(uuid.New(), types.EventProgress, "noise"))

	// An incoming terminal takes the progress slot, never a buffered terminal.
	dropped, sent := offer(ch, event(taskB, types.EventFailed, "verdict b"))
	require.True(t, sent)
	require.NotNil(t, dropped)
	assert.Equal(t, types.EventProgress, dropped.Kind)

	// With only terminal events buffered, incoming progress is what drops.
	dropped, sent = offer(ch, event(uuid.New(), types.EventProgress, "late noise"))
	assert.False(t, sent)
	require.NotNil(t, dropped)
	assert.Equal(t, "late noise", dropped.Message)

	first, second := <-ch, <-ch
	assert.Equal(t, taskA, first.TaskID)
	assert.Equal(t, taskB, second.TaskID)
}

func TestCLIChannelFormatsEvents(t *testing.T) {
	var buf bytes.Buffer
	ch := NewCLIChannel(&buf)

	id := uuid.New()
	require.NoError(t, ch.Deliver(context.Background(), event(id, types.EventCompleted, "all done")))

	line := buf.String()
	assert.Contains(t, line, id.String()[:8])
	assert.Contains(t, line, "completed")
	assert.Contains(t, line, "all done")
}

func TestFileChannelAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	ch, err := NewFileChannel(path)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Deliver(context.Background(), event(uuid.New(), types.EventStarted, "one")))
	require.NoError(t, ch.Deliver(context.Background(), event(uuid.New(), types.EventFailed, "two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"failed"`)
}

func TestWebhookDeliveryRetriesAndRecords(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log, err := store.New(filepath.Join(t.TempDir(), "curator.db"))
	require.NoError(t, err)
	defer log.Close()

	n := startNotifier(t, fastNotifyConfig(), log)
	n.RegisterChannel(NewWebhookChannel(srv.URL))

	id := uuid.New()
	n.Publish(event(id, types.EventCompleted, "ship it"))

	require.Eventually(t, func() bool {
		recs, err := n.Report(id)
		return err == nil && len(recs) == 1 && recs[0].Delivered
	}, 3*time.Second, 20*time.Millisecond)

	recs, err := n.Report(id)
	require.NoError(t, err)
	assert.Equal(t, "webhook", recs[0].Channel)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookExhaustedRetriesRecordFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	log, err := store.New(filepath.Join(t.TempDir(), "curator.db"))
	require.NoError(t, err)
	defer log.Close()

	cfg := fastNotifyConfig()
	cfg.MaxRetries = 1
	n := startNotifier(t, cfg, log)
	n.RegisterChannel(NewWebhookChannel(srv.URL))

	id := uuid.New()
	n.Publish(event(id, types.EventFailed, "bad news"))

	require.Eventually(t, func() bool {
		recs, err := n.Report(id)
		return err == nil && len(recs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	recs, err := n.Report(id)
	require.NoError(t, err)
	assert.False(t, recs[0].Delivered)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.Contains(t, recs[0].LastError, "500")
}
