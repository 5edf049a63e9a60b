package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/route"
)

// DefaultDebounceDelay coalesces bursts of writes into one reload.
const DefaultDebounceDelay = 100 * time.Millisecond

// SeedCallback receives the definitions of a freshly loaded seed file.
type SeedCallback func(ctx context.Context, defs []*route.Definition) error

// ErrorCallback is called when a reload fails.
type ErrorCallback func(error)

// SeedWatcher applies a route seed file once at start and again every
// time the file changes.
type SeedWatcher struct {
	path          string
	loader        *Loader
	watcher       *fsnotify.Watcher
	callback      SeedCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration

	mu        sync.Mutex
	lastCount int
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption configures a SeedWatcher.
type WatcherOption func(*SeedWatcher)

// WithDebounceDelay sets how long to wait for writes to settle.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *SeedWatcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *SeedWatcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the callback for failed reloads.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *SeedWatcher) {
		w.errorCallback = callback
	}
}

// WithLoader sets the loader used to parse the seed file.
func WithLoader(loader *Loader) WatcherOption {
	return func(w *SeedWatcher) {
		w.loader = loader
	}
}

// NewSeedWatcher creates a watcher for the seed file at path.
func NewSeedWatcher(path string, callback SeedCallback, opts ...WatcherOption) (*SeedWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &SeedWatcher{
		path:          absPath,
		loader:        NewLoader(),
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: DefaultDebounceDelay,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start applies the seed file and begins watching it. A file that cannot
// be applied at start is an error.
func (w *SeedWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.apply(ctx); err != nil {
		w.markStopped()
		return err
	}

	// The directory is watched so that editors replacing the file by
	// rename are still noticed.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.markStopped()
		return err
	}

	w.logger.Info("watching route seed file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)
	return nil
}

func (w *SeedWatcher) markStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *SeedWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// LastCount returns the number of definitions applied by the last
// successful load.
func (w *SeedWatcher) LastCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCount
}

func (w *SeedWatcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("seed watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("seed watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = w.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			if err := w.apply(ctx); err != nil {
				w.reportError("failed to apply route seed file", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError("seed watcher error", err)
		}
	}
}

func (w *SeedWatcher) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return debounceTimer, debounceCh
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return debounceTimer, debounceCh
	}

	w.logger.Debug("route seed file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()),
	)

	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(w.debounceDelay)
	return debounceTimer, debounceTimer.C
}

func (w *SeedWatcher) reportError(msg string, err error) {
	w.logger.Error(msg,
		observability.String("path", w.path),
		observability.Error(err),
	)
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

// ForceReload applies the seed file immediately.
func (w *SeedWatcher) ForceReload(ctx context.Context) error {
	return w.apply(ctx)
}

func (w *SeedWatcher) apply(ctx context.Context) error {
	defs, err := w.loader.LoadSeedFile(w.path)
	if err != nil {
		return err
	}

	if w.callback != nil {
		if err := w.callback(ctx, defs); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.lastCount = len(defs)
	w.mu.Unlock()

	w.logger.Info("route seed file applied",
		observability.String("path", w.path),
		observability.Int("routes", len(defs)),
	)
	return nil
}
