// Package retention bounds the number of archives kept for a source.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/leefowlercu/atlas-archive/internal/archive"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

// DefaultStaleTempAge is how old an in-progress archive must be before a
// retention pass treats it as left behind by an interrupted build.
const DefaultStaleTempAge = time.Minute

// Result summarizes one retention pass.
type Result struct {
	Kept    []archive.Record
	Deleted []archive.Record
	Failed  []archive.Record

	// Orphans are the stale temp files removed by the pass.
	Orphans []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithFS sets the filesystem.
func WithFS(fs afero.Fs) Option {
	return func(m *Manager) {
		m.fs = fs
	}
}

// WithSink sets the status sink for deletion reports.
func WithSink(sink status.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStaleTempAge sets the age after which temp archives are removed.
func WithStaleTempAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleTemp = d
		}
	}
}

// Manager deletes the oldest archives of one source beyond a fixed count.
// Files that do not match the archive naming pattern are never touched.
type Manager struct {
	dest       string
	sourceName string
	max        int

	fs        afero.Fs
	sink      status.Sink
	logger    *slog.Logger
	staleTemp time.Duration
	now       func() time.Time

	mu sync.Mutex
}

// New creates a Manager for archives of sourceName in dest.
func New(dest, sourceName string, max int, opts ...Option) (*Manager, error) {
	if max < 1 {
		return nil, fmt.Errorf("max backups must be at least 1, got %d", max)
	}
	if sourceName == "" {
		return nil, fmt.Errorf("source name is required")
	}

	m := &Manager{
		dest:       dest,
		sourceName: sourceName,
		max:        max,
		fs:         afero.NewOsFs(),
		sink:       status.Discard,
		logger:     slog.Default(),
		staleTemp:  DefaultStaleTempAge,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Max returns the number of archives kept.
func (m *Manager) Max() int {
	return m.max
}

// List returns the recognized archives, oldest first.
func (m *Manager) List(ctx context.Context) ([]archive.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(m.fs, m.dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list destination; %w", err)
	}

	var records []archive.Record
	for _, fi := range infos {
		if !fi.Mode().IsRegular() {
			continue
		}
		rec, err := archive.Parse(filepath.Join(m.dest, fi.Name()), m.sourceName)
		if err != nil {
			continue
		}
		rec.Size = fi.Size()
		rec.CreatedAt = archive.SettleRepeatedHour(rec.CreatedAt, fi.ModTime())
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		if records[i].Seq != records[j].Seq {
			return records[i].Seq < records[j].Seq
		}
		return records[i].Name < records[j].Name
	})

	return records, nil
}

// Enforce deletes the oldest archives until at most Max remain. Deletion
// failures are reported as warnings and do not stop the pass. Running it
// again without new archives deletes nothing. Temp archives older than the
// stale age are removed as well.
func (m *Manager) Enforce(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.List(ctx)
	if err != nil {
		return Result{}, err
	}

	orphans := m.sweepTemp()

	excess := len(records) - m.max
	if excess <= 0 {
		return Result{Kept: records, Orphans: orphans}, nil
	}

	res := Result{Kept: records[excess:], Orphans: orphans}
	for _, rec := range records[:excess] {
		if err := m.fs.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
			res.Failed = append(res.Failed, rec)
			status.Warnf(m.sink, "Could not delete old backup %s: %v", rec.Name, err)
			m.logger.Warn("failed to delete archive", "path", rec.Path, "error", err)
			continue
		}
		res.Deleted = append(res.Deleted, rec)
		status.Infof(m.sink, "Deleted old backup %s (%s, %s)",
			rec.Name, humanize.Bytes(uint64(rec.Size)), humanize.Time(rec.CreatedAt))
		m.logger.Debug("archive deleted", "path", rec.Path)
	}

	return res, nil
}

// sweepTemp removes in-progress archives whose builds can no longer be
// running. Callers hold the destination lock, so any temp file old enough
// was left by a crashed or killed build.
func (m *Manager) sweepTemp() []string {
	infos, err := afero.ReadDir(m.fs, m.dest)
	if err != nil {
		return nil
	}

	var removed []string
	cutoff := m.now().Add(-m.staleTemp)
	for _, fi := range infos {
		if !fi.Mode().IsRegular() || !archive.IsTemp(fi.Name()) || fi.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.dest, fi.Name())
		if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove stale temp archive", "path", path, "error", err)
			continue
		}
		removed = append(removed, path)
		m.logger.Info("removed stale temp archive", "path", path, "age", m.now().Sub(fi.ModTime()))
	}
	return removed
}
