package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/events"
	"github.com/leefowlercu/atlas-archive/internal/lockfile"
	"github.com/leefowlercu/atlas-archive/internal/metrics"
	"github.com/leefowlercu/atlas-archive/internal/retention"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

// BackupResult is the outcome of a one-shot backup.
type BackupResult struct {
	Archive   archive.Result
	Retention retention.Result
}

// Backup writes a single archive tagged tag and enforces retention, outside
// any watch session. It fails with lockfile.ErrLocked while a session owns
// the destination.
func Backup(ctx context.Context, cfg WatchConfig, tag classify.Tag, opts ...Option) (BackupResult, error) {
	o := buildOptions(opts)

	lock, err := claim(cfg, o)
	if err != nil {
		return BackupResult{}, err
	}
	defer lock.Release()

	id := uuid.NewString()
	logger := o.logger.With("run_id", id)
	builder, manager, err := newPipeline(cfg, o, classify.New(cfg.Rules()), logger)
	if err != nil {
		return BackupResult{}, err
	}

	publish(ctx, o, events.BackupStarted, &events.BackupEvent{SessionID: id, Tag: string(tag)})

	res, err := builder.Build(ctx, tag)
	metrics.RecordBackup(string(tag), res.Duration, res.Record.Size, res.Skipped, err)
	if err != nil {
		status.Errorf(o.sink, "Backup failed: %v", err)
		publish(ctx, o, events.BackupFailed, &events.BackupEvent{SessionID: id, Tag: string(tag), Error: err.Error()})
		return BackupResult{}, fmt.Errorf("backup failed; %w", err)
	}
	reportBuild(o.sink, logger, res)
	publish(ctx, o, events.BackupCompleted, backupEvent(id, res))

	kept, err := manager.Enforce(context.WithoutCancel(ctx))
	if err != nil {
		return BackupResult{Archive: res}, fmt.Errorf("retention failed; %w", err)
	}
	recordRetention(kept)

	return BackupResult{Archive: res, Retention: kept}, nil
}

// Prune enforces retention for cfg without creating an archive.
func Prune(ctx context.Context, cfg WatchConfig, opts ...Option) (retention.Result, error) {
	o := buildOptions(opts)

	lock, err := claim(cfg, o)
	if err != nil {
		return retention.Result{}, err
	}
	defer lock.Release()

	_, manager, err := newPipeline(cfg, o, classify.New(cfg.Rules()), o.logger)
	if err != nil {
		return retention.Result{}, err
	}

	res, err := manager.Enforce(ctx)
	if err != nil {
		return retention.Result{}, fmt.Errorf("retention failed; %w", err)
	}
	recordRetention(res)

	for _, rec := range res.Deleted {
		publish(ctx, o, events.ArchivePruned, &events.PruneEvent{Path: rec.Path, CreatedAt: rec.CreatedAt})
	}
	return res, nil
}

// List returns the archives recorded for cfg's source, oldest first. It
// does not need the destination lock.
func List(ctx context.Context, cfg WatchConfig, opts ...Option) ([]archive.Record, error) {
	o := buildOptions(opts)

	if cfg.DestinationPath == "" || cfg.SourcePath == "" {
		return nil, fmt.Errorf("%w: source and destination paths are required", ErrConfiguration)
	}
	dst, err := filepath.Abs(cfg.DestinationPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve destination path; %v", ErrConfiguration, err)
	}

	max := cfg.MaxBackups
	if max < 1 {
		max = 1
	}
	manager, err := retention.New(dst, cfg.SourceName(), max, retention.WithFS(o.fs), retention.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return manager.List(ctx)
}

// claim validates cfg, checks the source and takes the destination lock.
func claim(cfg WatchConfig, o options) (*lockfile.Lock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, _ := filepath.Abs(cfg.SourcePath)
	dst, _ := filepath.Abs(cfg.DestinationPath)

	info, err := o.fs.Stat(src)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: source folder %s does not exist", ErrConfiguration, src)
	}
	if err := o.fs.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create destination; %v", ErrConfiguration, err)
	}

	lock := lockfile.ForDir(dst)
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return nil, fmt.Errorf("destination %s is in use by a watch session; %w", dst, err)
		}
		return nil, fmt.Errorf("failed to claim destination %s; %w", dst, err)
	}
	return lock, nil
}

func publish(ctx context.Context, o options, t events.EventType, payload any) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(context.WithoutCancel(ctx), events.NewEvent(t, payload)); err != nil {
		o.logger.Debug("event not published", "type", t, "error", err)
	}
}
