// Package fswatch provides a debounced fsnotify adapter generalized for any
// target directory and event predicate. The edge router daemon uses it to
// watch concepts/ recursively for instance creation; other callers can reuse
// it for different directories without duplicating the stop/done channel
// plumbing.
package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
)

// Handler is invoked once per settled (debounced) filesystem event.
type Handler func(event fsnotify.Event)

// Watcher wraps fsnotify with debouncing and explicit stop/done channels, so
// Stop can block until the event loop has actually exited.
type Watcher struct {
	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	root        string
	debounceMap map[string]time.Time
	pending     map[string]fsnotify.Event
	debounceDur time.Duration
	handler     Handler
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// New creates a watcher rooted at root (not yet watching anything; call Start).
func New(root string, handler Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeIO, root, err)
	}
	return &Watcher{
		fsw:         fsw,
		root:        root,
		handler:     handler,
		debounceMap: make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start recursively adds every directory under root to the watch set and
// begins the event loop in a goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.root, 0755); err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, w.root, err)
	}

	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return ckerrors.Wrap(ckerrors.CodeIO, w.root, err)
	}

	go w.run(ctx)
	return nil
}

// Stop signals the event loop to exit and blocks until it has.
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
	_ = w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	log := logging.Get(logging.CategoryRouter)
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// A new directory can itself need watching (recursive watch).
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() && event.Op&fsnotify.Create != 0 {
				if err := w.fsw.Add(event.Name); err != nil {
					log.Warn("failed to watch new directory %s: %v", event.Name, err)
				}
			}
			w.mu.Lock()
			w.debounceMap[event.Name] = time.Now()
			w.pendingEvent(event)
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error("watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

// pendingEvent records the most recent event per path so flush can dispatch
// the right fsnotify.Event once debouncing settles.
func (w *Watcher) pendingEvent(event fsnotify.Event) {
	if w.pending == nil {
		w.pending = map[string]fsnotify.Event{}
	}
	w.pending[event.Name] = event
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []fsnotify.Event
	for path, t := range w.debounceMap {
		if now.Sub(t) >= w.debounceDur {
			if ev, ok := w.pending[path]; ok {
				ready = append(ready, ev)
				delete(w.pending, path)
			}
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, ev := range ready {
		w.handler(ev)
	}
}
