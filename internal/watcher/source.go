// Package watcher turns native filesystem notifications for a directory tree
// into change events and debounced backup triggers.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/metrics"
)

// ErrRootRemoved is reported when the watched root is deleted or renamed.
var ErrRootRemoved = errors.New("watched root was removed")

// Event is a raw file change under the watched root.
type Event struct {
	// Path is absolute.
	Path string
	Op   classify.Op
	Time time.Time
}

// SourceStats contains statistics about watcher activity.
type SourceStats struct {
	WatchedDirs    int
	EventsReceived int64
	EventsEmitted  int64
	Errors         int64
	IsRunning      bool
	DegradedMode   bool
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the logger for the source.
func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithSkipDir sets a predicate for directories that must not be watched.
// The root itself is always watched.
func WithSkipDir(fn func(path string) bool) SourceOption {
	return func(s *Source) {
		s.skipDir = fn
	}
}

// WithBufferSize sets the capacity of the events channel.
func WithBufferSize(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// Source watches a directory tree recursively.
type Source struct {
	root       string
	fsWatcher  *fsnotify.Watcher
	logger     *slog.Logger
	skipDir    func(path string) bool
	bufferSize int

	mu      sync.RWMutex
	stats   SourceStats
	running bool

	events   chan Event
	errChan  chan error
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewSource creates a Source for root. The root must be an existing directory.
func NewSource(root string, opts ...SourceOption) (*Source, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path; %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path; %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absRoot)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher; %w", err)
	}

	s := &Source{
		root:       absRoot,
		fsWatcher:  fsw,
		logger:     slog.Default(),
		skipDir:    func(string) bool { return false },
		bufferSize: 1000,
		errChan:    make(chan error, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan Event, s.bufferSize)

	return s, nil
}

// Root returns the absolute watched root.
func (s *Source) Root() string {
	return s.root
}

// Start adds recursive watches and begins processing notifications.
func (s *Source) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("source already running")
	}
	s.running = true
	s.stats.IsRunning = true
	s.mu.Unlock()

	if err := s.addRecursive(s.root, false); err != nil {
		s.mu.Lock()
		s.running = false
		s.stats.IsRunning = false
		s.mu.Unlock()
		return err
	}

	go s.processEvents()
	return nil
}

// Events returns the channel of raw change events. It is closed when the source stops.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Errors reports fatal watch errors, including ErrRootRemoved.
func (s *Source) Errors() <-chan error {
	return s.errChan
}

// Close stops the source and releases the native watch.
func (s *Source) Close() error {
	var closeErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		wasRunning := s.running
		s.running = false
		s.stats.IsRunning = false
		s.mu.Unlock()

		close(s.stopCh)
		if wasRunning {
			<-s.doneCh
		} else {
			close(s.events)
		}

		closeErr = s.fsWatcher.Close()
		metrics.WatcherPathsTotal.Set(0)
	})
	return closeErr
}

// Stats returns current watcher statistics.
func (s *Source) Stats() SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.WatchedDirs = len(s.fsWatcher.WatchList())
	return stats
}

// addRecursive watches dir and every subdirectory not excluded by skipDir.
// When emit is true, files already present are reported as created; this
// covers files written into a new directory before its watch was added.
func (s *Source) addRecursive(dir string, emit bool) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir {
				return walkErr
			}
			return nil // Skip directories we can't access
		}

		if !d.IsDir() {
			if emit {
				s.emit(Event{Path: p, Op: classify.OpCreate, Time: time.Now()})
			}
			return nil
		}

		if p != s.root && s.skipDir(p) {
			return fs.SkipDir
		}

		if err := s.addWatch(p); err != nil {
			// Log but don't fail on watch errors (may hit limits)
			s.logger.Warn("failed to add watch", "path", p, "error", err)
			s.mu.Lock()
			s.stats.Errors++
			s.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory; %w", err)
	}

	metrics.WatcherPathsTotal.Set(float64(len(s.fsWatcher.WatchList())))
	return nil
}

// addWatch adds a single directory to the fsnotify watcher.
func (s *Source) addWatch(path string) error {
	if err := s.fsWatcher.Add(path); err != nil {
		if isWatchLimitError(err) {
			s.mu.Lock()
			s.stats.DegradedMode = true
			s.mu.Unlock()
			s.logger.Warn("watch limit reached, entering degraded mode", "path", path)
			return nil
		}
		return err
	}
	return nil
}

// processEvents reads from fsnotify and translates notifications.
func (s *Source) processEvents() {
	defer close(s.doneCh)
	defer close(s.events)

	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			s.handleFsEvent(event)
		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			s.mu.Lock()
			s.stats.Errors++
			s.mu.Unlock()
			s.logger.Error("fsnotify error", "error", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Lost events still mean something changed.
				s.emit(Event{Path: s.root, Op: classify.OpWrite, Time: time.Now()})
				continue
			}
			s.reportError(err)
		}
	}
}

// handleFsEvent processes a single fsnotify event.
func (s *Source) handleFsEvent(event fsnotify.Event) {
	s.mu.Lock()
	s.stats.EventsReceived++
	s.mu.Unlock()

	path := filepath.Clean(event.Name)

	if path == s.root && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		s.reportError(fmt.Errorf("%w: %s", ErrRootRemoved, s.root))
		return
	}

	var op classify.Op
	switch {
	case event.Has(fsnotify.Remove):
		op = classify.OpRemove
	case event.Has(fsnotify.Rename):
		op = classify.OpRename
	case event.Has(fsnotify.Create):
		op = classify.OpCreate
	case event.Has(fsnotify.Write):
		op = classify.OpWrite
	default:
		return // Ignore chmod-only events
	}
	metrics.RecordWatcherEvent(op.String())

	// New directories get their own watch; their contents are reported instead.
	if op == classify.OpCreate {
		info, err := os.Lstat(path)
		if err == nil && info.IsDir() {
			if s.skipDir(path) {
				return
			}
			if err := s.addRecursive(path, true); err != nil {
				s.logger.Warn("failed to add watch for new directory", "path", path, "error", err)
			}
			return
		}
	}

	s.emit(Event{Path: path, Op: op, Time: time.Now()})
}

// emit forwards an event unless the source is stopping.
func (s *Source) emit(e Event) {
	select {
	case s.events <- e:
		s.mu.Lock()
		s.stats.EventsEmitted++
		s.mu.Unlock()
	case <-s.stopCh:
	}
}

func (s *Source) reportError(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

// isWatchLimitError checks if an error indicates watch limit exhaustion.
func isWatchLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "too many open files") ||
		strings.Contains(errStr, "no space left on device") ||
		strings.Contains(errStr, "user limit on total number of inotify watches")
}
