// Package notify fans research task lifecycle events out to in-process
// subscribers and external delivery channels. Progress events are throttled
// per task and dropped under pressure; terminal events are never dropped.
// Channel deliveries retry with backoff and leave an audit row per
// (task, channel) pair.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/store"
	"curator/internal/types"
)

// Preferences filters what a subscriber receives. The zero value receives
// everything.
type Preferences struct {
	// Kinds, when non-empty, whitelists event kinds.
	Kinds []types.EventKind

	// TaskID, when set, restricts events to one task.
	TaskID uuid.UUID
}

func (p Preferences) wants(event types.NotificationEvent) bool {
	if p.TaskID != uuid.Nil && p.TaskID != event.TaskID {
		return false
	}
	if len(p.Kinds) == 0 {
		return true
	}
	for _, k := range p.Kinds {
		if k == event.Kind {
			return true
		}
	}
	return false
}

type subscription struct {
	prefs Preferences

	mu     sync.Mutex
	ch     chan types.NotificationEvent
	closed bool
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Notifier is the event hub between the scheduler and everything that wants
// to hear from it.
type Notifier struct {
	cfg config.NotifyConfig

	// log, when set, records delivery outcomes. Nil disables the audit trail.
	log *store.Store

	mu           sync.Mutex
	subs         map[int]*subscription
	nextSub      int
	channels     []Channel
	lastProgress map[uuid.UUID]time.Time

	// pubMu serializes writers to events so offer's evict-and-requeue
	// sequence stays atomic.
	pubMu      sync.Mutex
	events     chan types.NotificationEvent
	stopCh     chan struct{}
	doneCh     chan struct{}
	stopped    sync.Once
	deliveries sync.WaitGroup
}

// New builds a notifier. log may be nil.
func New(cfg config.NotifyConfig, log *store.Store) *Notifier {
	return &Notifier{
		cfg:          cfg,
		log:          log,
		subs:         make(map[int]*subscription),
		lastProgress: make(map[uuid.UUID]time.Time),
		events:       make(chan types.NotificationEvent, cfg.ChannelBuffer),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// RegisterChannel adds a delivery channel. Register before Start.
func (n *Notifier) RegisterChannel(ch Channel) {
	n.mu.Lock()
	n.channels = append(n.channels, ch)
	n.mu.Unlock()
	logging.Notify("registered delivery channel %q", ch.Name())
}

// Subscribe returns a bounded event stream filtered by prefs, plus a cancel
// function. The stream is closed on cancel and on notifier shutdown.
func (n *Notifier) Subscribe(prefs Preferences) (<-chan types.NotificationEvent, func()) {
	sub := &subscription{
		prefs: prefs,
		ch:    make(chan types.NotificationEvent, n.cfg.ChannelBuffer),
	}
	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = sub
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish accepts a lifecycle event. Never blocks the caller: under pressure
// the oldest buffered progress event is evicted to make room, and terminal
// events are never evicted in favor of progress.
func (n *Notifier) Publish(event types.NotificationEvent) {
	if event.Kind == types.EventProgress && n.throttled(event.TaskID) {
		return
	}
	if event.Kind.Terminal() {
		n.mu.Lock()
		delete(n.lastProgress, event.TaskID)
		n.mu.Unlock()
	}

	n.pubMu.Lock()
	dropped, _ := offer(n.events, event)
	n.pubMu.Unlock()
	if dropped != nil {
		logging.NotifyDebug("event buffer full, dropped %s for task %s", dropped.Kind, dropped.TaskID)
	}
}

// offer places event on ch without blocking. When the buffer is full the
// oldest buffered progress event is evicted to make room. With only terminal
// events buffered, an incoming progress event is dropped instead, and an
// incoming terminal event displaces the oldest buffered one. Writers to ch
// must be serialized by the caller. Returns the event that was dropped, if
// any, and whether event itself landed.
func offer(ch chan types.NotificationEvent, event types.NotificationEvent) (*types.NotificationEvent, bool) {
	select {
	case ch <- event:
		return nil, true
	default:
	}

	buffered := make([]types.NotificationEvent, 0, cap(ch))
drain:
	for {
		select {
		case old := <-ch:
			buffered = append(buffered, old)
		default:
			break drain
		}
	}

	var victim types.NotificationEvent
	found := false
	kept := make([]types.NotificationEvent, 0, len(buffered))
	for _, old := range buffered {
		if !found && !old.Kind.Terminal() {
			victim, found = old, true
			continue
		}
		kept = append(kept, old)
	}
	if !found {
		if !event.Kind.Terminal() {
			for _, old := range kept {
				ch <- old
			}
			return &event, false
		}
		if len(kept) > 0 {
			victim, found = kept[0], true
			kept = kept[1:]
		}
	}
	for _, old := range kept {
		ch <- old
	}

	sent := false
	select {
	case ch <- event:
		sent = true
	default:
	}
	if found {
		return &victim, sent
	}
	return nil, sent
}

func (n *Notifier) throttled(taskID uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	if last, ok := n.lastProgress[taskID]; ok && now.Sub(last) < n.cfg.ProgressInterval.Std() {
		return true
	}
	n.lastProgress[taskID] = now
	return false
}

// Start launches the fan-out loop. Non-blocking.
func (n *Notifier) Start(ctx context.Context) {
	go n.run(ctx)
}

// Stop drains in-flight deliveries and closes all subscriber streams.
func (n *Notifier) Stop() {
	n.stopped.Do(func() { close(n.stopCh) })
	<-n.doneCh
	n.deliveries.Wait()

	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for id, sub := range n.subs {
		delete(n.subs, id)
		subs = append(subs, sub)
	}
	n.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case event := <-n.events:
			n.fanOut(ctx, event)
		}
	}
}

func (n *Notifier) fanOut(ctx context.Context, event types.NotificationEvent) {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.Unlock()

	for _, sub := range subs {
		if sub.prefs.wants(event) {
			n.sendToSub(sub, event)
		}
	}
	for _, ch := range channels {
		n.deliveries.Add(1)
		go func(ch Channel) {
			defer n.deliveries.Done()
			n.deliver(ctx, ch, event)
		}(ch)
	}
}

// sendToSub pushes to a subscriber's bounded channel. A slow subscriber loses
// its oldest buffered progress events first; terminal events survive.
func (n *Notifier) sendToSub(sub *subscription, event types.NotificationEvent) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	if dropped, _ := offer(sub.ch, event); dropped != nil {
		logging.NotifyDebug("subscriber buffer full, dropped %s for task %s", dropped.Kind, dropped.TaskID)
	}
}

// deliver pushes one event through a channel with retry and backoff, then
// records the outcome.
func (n *Notifier) deliver(ctx context.Context, ch Channel, event types.NotificationEvent) {
	var lastErr error
	attempts := 0
retry:
	for attempts <= n.cfg.MaxRetries {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.DeliveryTimeout.Std())
		lastErr = ch.Deliver(attemptCtx, event)
		cancel()
		if lastErr == nil {
			break
		}
		logging.Get(logging.CategoryNotify).Warn(
			"delivery attempt %d to %q failed for task %s: %v", attempts, ch.Name(), event.TaskID, lastErr)
		select {
		case <-time.After(n.cfg.RetryBackoff.Std()):
		case <-n.stopCh:
			break retry
		case <-ctx.Done():
			break retry
		}
	}

	n.record(event, ch.Name(), attempts, lastErr)
	if lastErr == nil {
		logging.NotifyDebug("delivered %s for task %s via %q", event.Kind, event.TaskID, ch.Name())
	}
}

func (n *Notifier) record(event types.NotificationEvent, channel string, attempts int, deliveryErr error) {
	if n.log == nil {
		return
	}
	rec := store.DeliveryRecord{
		TaskID:    event.TaskID,
		Channel:   channel,
		Kind:      event.Kind,
		Attempts:  attempts,
		Delivered: deliveryErr == nil,
	}
	if deliveryErr != nil {
		rec.LastError = deliveryErr.Error()
	}
	if err := n.log.RecordDelivery(rec); err != nil {
		logging.Get(logging.CategoryNotify).Error("failed to record delivery: %v", err)
	}
}

// Report returns the delivery audit rows for a task.
func (n *Notifier) Report(taskID uuid.UUID) ([]store.DeliveryRecord, error) {
	if n.log == nil {
		return nil, nil
	}
	return n.log.DeliveriesForTask(taskID)
}
