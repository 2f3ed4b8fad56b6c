// Package watch reports settled changes to a set of program files.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the directories of a fixed set of files and emits batches
// of changed paths once they settle. Directories are watched instead of the
// files themselves so that editors replacing a file by rename are seen.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	logger      *zap.Logger
	files       map[string]bool // absolute paths of watched files
	dirs        []string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	changes     chan []string
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stopped     bool

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Batches       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle window. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDur = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher for files. Standard input ("-") cannot be watched.
func New(files []string, opts ...Option) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	w := &Watcher{
		logger:      zap.NewNop(),
		files:       make(map[string]bool, len(files)),
		debounceMap: make(map[string]time.Time),
		debounceDur: DefaultDebounce,
		changes:     make(chan []string, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	seen := make(map[string]bool)
	for _, f := range files {
		if f == "-" {
			return nil, fmt.Errorf("standard input cannot be watched")
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		w.files[abs] = true
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	sort.Strings(w.dirs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = watcher
	return w, nil
}

// Changes delivers sorted batches of settled paths. It is closed when the
// watcher stops.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Start registers the directories and begins watching in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Unlock()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.logger.Debug("watching directory", zap.String("dir", dir))
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	if wasRunning {
		<-w.doneCh
	} else {
		close(w.changes)
	}

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("error closing watcher", zap.Error(err))
	}
	w.logger.Debug("watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.changes)

	debounceTicker := time.NewTicker(w.tickInterval())
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watcher context cancelled")
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
			w.logger.Warn("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			batch := w.settled(time.Now())
			if len(batch) == 0 {
				continue
			}
			select {
			case w.changes <- batch:
				w.logger.Info("files changed", zap.Strings("paths", batch))
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

// tickInterval polls often enough to honour short debounce windows.
func (w *Watcher) tickInterval() time.Duration {
	tick := w.debounceDur / 5
	switch {
	case tick < 10*time.Millisecond:
		return 10 * time.Millisecond
	case tick > 100*time.Millisecond:
		return 100 * time.Millisecond
	}
	return tick
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.files[path] {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // chmod
	}

	w.logger.Debug("file event", zap.String("type", eventType), zap.String("path", path))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = path
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}
	w.debounceMap[path] = time.Now()
}

// settled removes and returns the paths quiet for at least the debounce window.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var batch []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			batch = append(batch, path)
			delete(w.debounceMap, path)
		}
	}
	if len(batch) > 0 {
		sort.Strings(batch)
		w.stats.Batches++
	}
	return batch
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the watcher goroutine is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	return append([]string(nil), w.dirs...)
}
