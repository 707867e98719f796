// Package controller runs watch sessions: it wires the filesystem watch, the
// classifier and the debouncer to the archive builder and retention manager.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/events"
	"github.com/leefowlercu/atlas-archive/internal/lockfile"
	"github.com/leefowlercu/atlas-archive/internal/metrics"
	"github.com/leefowlercu/atlas-archive/internal/retention"
	"github.com/leefowlercu/atlas-archive/internal/status"
	"github.com/leefowlercu/atlas-archive/internal/watcher"
)

// State is the lifecycle state of a Controller.
type State int

const (
	Stopped State = iota
	Watching
	// Stopping is transient: the session drains an in-flight backup.
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Watching:
		return "watching"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Option configures a Controller and the one-shot operations.
type Option func(*options)

type options struct {
	sink   status.Sink
	logger *slog.Logger
	bus    events.Bus
	fs     afero.Fs
	now    func() time.Time

	level    int
	levelSet bool
}

// WithSink sets the status sink.
func WithSink(sink status.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBus publishes session events on bus.
func WithBus(bus events.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithFS sets the filesystem used to read the source and write archives.
// The native watch always observes the real filesystem.
func WithFS(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithClock sets the time source for archive names.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithCompressionLevel sets the deflate level for archives.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.level = level
		o.levelSet = true
	}
}

func buildOptions(opts []Option) options {
	o := options{
		sink:   status.Discard,
		logger: slog.Default(),
		fs:     afero.NewOsFs(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Controller owns at most one watch session at a time.
type Controller struct {
	cfg  WatchConfig
	opts options

	mu      sync.Mutex
	state   State
	sess    *session
	lastErr error
}

// New creates a stopped Controller for cfg. The config is validated by Start.
func New(cfg WatchConfig, opts ...Option) *Controller {
	return &Controller{
		cfg:   cfg,
		opts:  buildOptions(opts),
		state: Stopped,
	}
}

// Config returns the session configuration.
func (c *Controller) Config() WatchConfig {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the ID of the active or most recent session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Start validates the config, claims the destination and begins watching.
// The session ends when Stop is called, ctx is cancelled, or the watch fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Stopped {
		return ErrAlreadyRunning
	}

	sess, err := c.newSession()
	if err != nil {
		return err
	}

	if err := sess.source.Start(); err != nil {
		sess.release()
		return fmt.Errorf("%w: failed to start watch; %v", ErrWatchFailure, err)
	}

	c.sess = sess
	c.state = Watching
	c.lastErr = nil

	metrics.SessionsActive.Inc()
	c.opts.logger.Info("watch session started",
		"session_id", sess.id,
		"source", sess.source.Root(),
		"destination", sess.dest,
		"max_backups", c.cfg.MaxBackups,
		"debounce", c.cfg.DebounceWindow)
	status.Infof(c.opts.sink, "Watching %s (backups to %s, keeping %d)",
		sess.source.Root(), sess.dest, c.cfg.MaxBackups)
	c.publish(ctx, events.SessionStarted, &events.SessionEvent{
		SessionID:   sess.id,
		Source:      sess.source.Root(),
		Destination: sess.dest,
	})

	go sess.run(ctx)
	return nil
}

// Stop asks the active session to end. An in-flight backup and its
// retention pass complete first. Stop does not wait; use Done or Shutdown.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Watching || c.sess == nil {
		return
	}
	c.state = Stopping
	c.sess.requestStop()
}

// Shutdown stops the session and waits until it has ended or ctx expires.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Stop()
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session did not stop in time; %w", ctx.Err())
	}
}

// Done returns a channel closed when the current session has ended. With no
// session it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.sess.done
}

// Err returns the WatchFailure that ended the last session, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// newSession validates the config and assembles a session. On error nothing
// is left claimed.
func (c *Controller) newSession() (*session, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	src, _ := filepath.Abs(c.cfg.SourcePath)
	dst, _ := filepath.Abs(c.cfg.DestinationPath)

	if err := CheckSource(src); err != nil {
		return nil, err
	}

	if err := c.opts.fs.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create destination; %v", ErrConfiguration, err)
	}

	lock := lockfile.ForDir(dst)
	if err := lock.Acquire(); err != nil {
		return nil, fmt.Errorf("failed to claim destination %s; %w", dst, err)
	}

	id := uuid.NewString()
	logger := c.opts.logger.With("session_id", id)
	classifier := classify.New(c.cfg.Rules())

	builder, manager, err := newPipeline(c.cfg, c.opts, classifier, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	source, err := watcher.NewSource(src,
		watcher.WithLogger(logger),
		watcher.WithSkipDir(func(p string) bool {
			if p == dst {
				return true
			}
			return classifier.IsCacheDirName(filepath.Base(p))
		}),
	)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("%w: %v", ErrWatchFailure, err)
	}

	debouncer := watcher.NewDebouncer(c.cfg.DebounceWindow,
		watcher.WithExistsFunc(func(rel string) bool {
			_, err := os.Lstat(filepath.Join(src, rel))
			return err == nil
		}),
	)

	return &session{
		id:         id,
		ctrl:       c,
		src:        src,
		dest:       dst,
		logger:     logger,
		classifier: classifier,
		source:     source,
		debouncer:  debouncer,
		builder:    builder,
		retention:  manager,
		lock:       lock,
		limiter:    newChangeLimiter(),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// finish records the end of sess. Called once from the session goroutine.
func (c *Controller) finish(sess *session, cause error) {
	c.mu.Lock()
	c.state = Stopped
	c.lastErr = cause
	c.mu.Unlock()

	metrics.SessionsActive.Dec()

	reason := "requested"
	if cause != nil {
		reason = cause.Error()
		metrics.SessionFailuresTotal.Inc()
		sess.logger.Error("watch session failed", "error", cause)
		status.Errorf(c.opts.sink, "Watching stopped: %v", cause)
	} else {
		sess.logger.Info("watch session stopped")
		status.Infof(c.opts.sink, "Watching stopped")
	}

	c.publish(context.Background(), events.SessionStopped, &events.SessionEvent{
		SessionID:   sess.id,
		Source:      sess.src,
		Destination: sess.dest,
		Reason:      reason,
	})
}

func (c *Controller) publish(ctx context.Context, t events.EventType, payload any) {
	publish(ctx, c.opts, t, payload)
}

// newPipeline creates the builder and retention manager for cfg.
func newPipeline(cfg WatchConfig, o options, classifier *classify.Classifier, logger *slog.Logger) (*archive.Builder, *retention.Manager, error) {
	builderOpts := []archive.Option{
		archive.WithFS(o.fs),
		archive.WithSink(o.sink),
		archive.WithLogger(logger),
		archive.WithClock(o.now),
		archive.WithClassifier(classifier),
	}
	if o.levelSet {
		builderOpts = append(builderOpts, archive.WithCompressionLevel(o.level))
	}

	builder, err := archive.NewBuilder(cfg.SourcePath, cfg.DestinationPath, builderOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	dst, _ := filepath.Abs(cfg.DestinationPath)
	manager, err := retention.New(dst, builder.SourceName(), cfg.MaxBackups,
		retention.WithFS(o.fs),
		retention.WithSink(o.sink),
		retention.WithLogger(logger),
		retention.WithStaleTempAge(max(cfg.DebounceWindow, retention.DefaultStaleTempAge)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return builder, manager, nil
}
