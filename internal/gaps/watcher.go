package gaps

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/types"
)

// =============================================================================
// FILE WATCHER
// =============================================================================

// Watcher feeds filesystem changes into the analyzer's incremental path.
// Rapid saves of the same file are debounced; each settled change produces
// one OnFileChanged call and the resulting gaps go to the emit callback.
type Watcher struct {
	analyzer *Analyzer
	root     string
	watcher  *fsnotify.Watcher
	emit     func([]*types.KnowledgeGap)

	mu       sync.Mutex
	pending  map[string]time.Time
	debounce time.Duration
	running  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds a watcher over root. emit receives the gaps from each
// settled file change.
func NewWatcher(cfg config.GapsConfig, analyzer *Analyzer, root string, emit func([]*types.KnowledgeGap)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		analyzer: analyzer,
		root:     root,
		watcher:  fsw,
		emit:     emit,
		pending:  make(map[string]time.Time),
		debounce: cfg.DebounceWindow.Std(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start registers every non-excluded directory under root and launches the
// event loop. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// fsnotify is not recursive; add each directory explicitly.
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if w.analyzer.skip[d.Name()] {
			return filepath.SkipDir
		}
		if werr := w.watcher.Add(path); werr != nil {
			logging.Get(logging.CategoryGaps).Warn("watch failed for %s: %v", path, werr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logging.Gaps("watching %s for changes", w.root)

	go w.run(ctx)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryGaps).Error("error closing watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	flushTicker := time.NewTicker(100 * time.Millisecond)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryGaps).Error("watcher error: %v", err)

		case <-flushTicker.C:
			w.flushSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return // chmod etc.
	}
	if !w.analyzer.exts[filepath.Ext(event.Name)] {
		// New directories need watches of their own.
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.analyzer.skip[filepath.Base(event.Name)] {
				if err := w.watcher.Add(event.Name); err != nil {
					logging.Get(logging.CategoryGaps).Warn("watch failed for %s: %v", event.Name, err)
				}
			}
		}
		return
	}
	logging.GapsDebug("file event %s for %s", event.Op, event.Name)
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flushSettled runs the incremental analysis for every file whose last event
// is older than the debounce window.
func (w *Watcher) flushSettled(ctx context.Context) {
	now := time.Now()
	var settled []string
	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		gaps, err := w.analyzer.OnFileChanged(ctx, w.root, path)
		if err != nil {
			logging.Get(logging.CategoryGaps).Warn("incremental analysis failed for %s: %v", path, err)
			continue
		}
		if len(gaps) > 0 && w.emit != nil {
			w.emit(gaps)
		}
	}
}
