package app

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/conductor/internal/bus"
	"github.com/jaakkos/conductor/internal/domain"
)

const (
	watchDebounce       = 200 * time.Millisecond
	defaultPollInterval = 10 * time.Second
)

// StoreWatcher watches the signal file that writers touch after each store
// mutation and republishes a mail:sync poke into the local bus. This is how
// a wait in this process notices mail written by a different server process
// sharing the same database. If fsnotify cannot initialize it falls back to
// polling the file.
type StoreWatcher struct {
	signalPath   string
	bus          *bus.Bus
	logger       *log.Logger
	pollInterval time.Duration

	mu            sync.Mutex
	lastRev       string
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// WatcherOption configures the store watcher.
type WatcherOption func(*StoreWatcher)

// WithWatchPollInterval sets the fallback poll interval (default 10s).
func WithWatchPollInterval(d time.Duration) WatcherOption {
	return func(w *StoreWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// NewStoreWatcher creates a watcher for the given signal file.
func NewStoreWatcher(signalPath string, b *bus.Bus, logger *log.Logger, opts ...WatcherOption) *StoreWatcher {
	w := &StoreWatcher{
		signalPath:   signalPath,
		bus:          b,
		logger:       logger,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start runs the file watcher and fallback poll. Returns when ctx is
// cancelled or Stop is called.
func (w *StoreWatcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watchDir := filepath.Dir(w.signalPath)
	signalName := filepath.Base(w.signalPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("StoreWatcher: fsnotify init failed (%v), using poll-only", err)
	} else {
		w.watcher = watcher
		w.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			w.logger.Printf("StoreWatcher: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			w.watcher = nil
			w.useFsnotify = false
		}
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx, signalName)
	}

	w.pollLoop(ctx)
}

// Stop signals the watcher to stop and waits for it.
func (w *StoreWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// CheckOnce runs one check cycle (for testing or manual trigger).
func (w *StoreWatcher) CheckOnce() {
	w.checkAndPoke()
}

func (w *StoreWatcher) watchLoop(ctx context.Context, signalName string) {
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
			if filepath.Base(event.Name) != signalName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.triggerDebounced()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *StoreWatcher) triggerDebounced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(watchDebounce, w.checkAndPoke)
}

func (w *StoreWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkAndPoke()
		}
	}
}

// checkAndPoke publishes a mail:sync event when the signal revision moved.
// The poke carries no project scoping; waiters re-query their own inboxes.
func (w *StoreWatcher) checkAndPoke() {
	data, err := os.ReadFile(w.signalPath)
	if err != nil {
		return
	}
	rev := string(data)
	w.mu.Lock()
	if rev == "" || rev == w.lastRev {
		w.mu.Unlock()
		return
	}
	w.lastRev = rev
	w.mu.Unlock()

	w.bus.Publish(domain.EventEnvelope{Type: domain.EventMailSync})
}
