package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/events"
	"github.com/leefowlercu/atlas-archive/internal/lockfile"
	"github.com/leefowlercu/atlas-archive/internal/metrics"
	"github.com/leefowlercu/atlas-archive/internal/retention"
	"github.com/leefowlercu/atlas-archive/internal/status"
	"github.com/leefowlercu/atlas-archive/internal/watcher"
)

// session is one Watching period. All fields except stopCh are owned by the
// run goroutine once it starts.
type session struct {
	id     string
	ctrl   *Controller
	src    string
	dest   string
	logger *slog.Logger

	classifier *classify.Classifier
	source     *watcher.Source
	debouncer  *watcher.Debouncer
	builder    *archive.Builder
	retention  *retention.Manager
	lock       *lockfile.Lock

	limiter    *rate.Limiter
	suppressed int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// newChangeLimiter bounds verbose change lines to a readable rate.
func newChangeLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(250*time.Millisecond), 8)
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// run is the session's single worker loop. Builds and retention passes run
// here, so at most one is ever in flight.
func (s *session) run(ctx context.Context) {
	var cause error
	defer func() {
		s.release()
		s.ctrl.finish(s, cause)
		close(s.done)
	}()

	for {
		select {
		case <-s.stopCh:
			return

		case <-ctx.Done():
			return

		case ev, ok := <-s.source.Events():
			if !ok {
				cause = fmt.Errorf("%w: change notifications closed", ErrWatchFailure)
				return
			}
			s.handleChange(ctx, ev)

		case err := <-s.source.Errors():
			cause = fmt.Errorf("%w: %v", ErrWatchFailure, err)
			return

		case trig := <-s.debouncer.Triggers():
			// A stop request wins over a trigger that fired concurrently.
			select {
			case <-s.stopCh:
				return
			default:
			}
			if err := s.backup(ctx, trig); err != nil {
				cause = err
				return
			}
		}
	}
}

// release cancels the timer, closes the watch and frees the destination.
func (s *session) release() {
	s.debouncer.Stop()
	if err := s.source.Close(); err != nil {
		s.logger.Warn("failed to close watch", "error", err)
	}
	if err := s.lock.Release(); err != nil {
		s.logger.Warn("failed to release destination lock", "error", err)
	}
}

// handleChange classifies a raw event and forwards qualifying ones.
func (s *session) handleChange(ctx context.Context, ev watcher.Event) {
	if ev.Path == s.dest || strings.HasPrefix(ev.Path, s.dest+string(filepath.Separator)) {
		return
	}

	rel, err := filepath.Rel(s.src, ev.Path)
	if err != nil {
		s.logger.Debug("change outside source", "path", ev.Path)
		return
	}

	category := s.classifier.Classify(rel)
	forwarded := category != classify.Ignored && s.classifier.Enabled(category)
	metrics.RecordChange(category.String(), forwarded)

	if !forwarded {
		s.logger.Debug("change ignored", "path", rel, "category", category, "op", ev.Op)
		return
	}

	s.logger.Debug("change detected", "path", rel, "category", category, "op", ev.Op)
	if s.ctrl.cfg.Verbose {
		s.reportChange(rel, category, ev.Op)
	}

	s.debouncer.Add(classify.ChangeEvent{
		Path:      rel,
		Category:  category,
		Op:        ev.Op,
		Timestamp: ev.Time,
	})

	s.ctrl.publish(ctx, events.ChangeDetected, &events.ChangeEvent{
		SessionID: s.id,
		Path:      rel,
		Category:  category.String(),
		Op:        ev.Op.String(),
	})
}

// reportChange writes a verbose change line, folding bursts into a count.
func (s *session) reportChange(rel string, category classify.Category, op classify.Op) {
	if !s.limiter.Allow() {
		s.suppressed++
		return
	}
	if s.suppressed > 0 {
		status.Infof(s.ctrl.opts.sink, "%d more changes detected", s.suppressed)
		s.suppressed = 0
	}
	status.Infof(s.ctrl.opts.sink, "Detected %s of %s (%s)", op, rel, category)
}

// backup builds an archive for trig and enforces retention. Only a vanished
// source is returned as an error; everything else is reported and the
// session keeps watching.
func (s *session) backup(ctx context.Context, trig watcher.Trigger) error {
	metrics.DebounceTriggersTotal.WithLabelValues(string(trig.Tag)).Inc()

	if s.suppressed > 0 {
		status.Infof(s.ctrl.opts.sink, "%d more changes detected", s.suppressed)
		s.suppressed = 0
	}

	if _, err := os.Stat(s.src); err != nil {
		return fmt.Errorf("%w: source folder %s no longer exists", ErrWatchFailure, s.src)
	}

	// Stop requests must not cut a build short.
	buildCtx := context.WithoutCancel(ctx)

	s.logger.Info("backup started", "tag", trig.Tag, "events", trig.Events)
	status.Infof(s.ctrl.opts.sink, "%d changes detected (%s), creating backup", trig.Events, trig.Tag)
	s.ctrl.publish(ctx, events.BackupStarted, &events.BackupEvent{
		SessionID: s.id,
		Tag:       string(trig.Tag),
	})

	res, err := s.builder.Build(buildCtx, trig.Tag)
	metrics.RecordBackup(string(trig.Tag), res.Duration, res.Record.Size, res.Skipped, err)
	if err != nil {
		if errors.Is(err, archive.ErrSourceUnavailable) {
			return fmt.Errorf("%w: %v", ErrWatchFailure, err)
		}
		s.logger.Error("backup failed", "tag", trig.Tag, "error", err)
		status.Errorf(s.ctrl.opts.sink, "Backup failed: %v", err)
		s.ctrl.publish(ctx, events.BackupFailed, &events.BackupEvent{
			SessionID: s.id,
			Tag:       string(trig.Tag),
			Error:     err.Error(),
		})
		return nil
	}

	reportBuild(s.ctrl.opts.sink, s.logger, res)
	s.ctrl.publish(ctx, events.BackupCompleted, backupEvent(s.id, res))

	s.prune(buildCtx)
	return nil
}

// prune runs a retention pass and publishes each deletion.
func (s *session) prune(ctx context.Context) {
	res, err := s.retention.Enforce(ctx)
	if err != nil {
		s.logger.Error("retention failed", "error", err)
		status.Errorf(s.ctrl.opts.sink, "Could not apply retention: %v", err)
		return
	}
	recordRetention(res)

	for _, rec := range res.Deleted {
		s.ctrl.publish(ctx, events.ArchivePruned, &events.PruneEvent{
			SessionID: s.id,
			Path:      rec.Path,
			CreatedAt: rec.CreatedAt,
		})
	}
}

func reportBuild(sink status.Sink, logger *slog.Logger, res archive.Result) {
	logger.Info("backup completed",
		"path", res.Record.Path,
		"files", res.Files,
		"skipped", res.Skipped,
		"size", res.Record.Size,
		"duration", res.Duration)

	msg := fmt.Sprintf("Backup created: %s (%d files, %s)",
		res.Record.Name, res.Files, humanize.Bytes(uint64(res.Record.Size)))
	if res.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", res.Skipped)
	}
	status.Infof(sink, "%s", msg)
}

func backupEvent(sessionID string, res archive.Result) *events.BackupEvent {
	return &events.BackupEvent{
		SessionID: sessionID,
		Tag:       string(res.Record.Tag),
		Path:      res.Record.Path,
		Files:     res.Files,
		Skipped:   res.Skipped,
		Size:      res.Record.Size,
		Duration:  res.Duration,
	}
}

func recordRetention(res retention.Result) {
	metrics.RecordRetention(len(res.Deleted), len(res.Failed), len(res.Kept)+len(res.Failed))
}
