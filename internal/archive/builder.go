// Package archive writes compressed snapshots of a source tree and
// recognizes the archives it has written.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/status"
)

var (
	// ErrWrite is returned when the archive cannot be written or committed.
	// Prior archives and the source tree are left untouched.
	ErrWrite = errors.New("archive write failed")

	// ErrSourceUnavailable is returned when the source directory is missing.
	ErrSourceUnavailable = errors.New("source directory unavailable")
)

// Result describes a completed build.
type Result struct {
	Record   Record
	Files    int
	Skipped  int
	Bytes    int64
	Duration time.Duration
}

// Option configures a Builder.
type Option func(*Builder)

// WithFS sets the filesystem used for both the source and the destination.
func WithFS(fs afero.Fs) Option {
	return func(b *Builder) {
		b.fs = fs
	}
}

// WithSink sets the status sink that receives file access warnings.
func WithSink(sink status.Sink) Option {
	return func(b *Builder) {
		b.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithClock sets the time source used for archive names.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithCompressionLevel sets the deflate level (flate.BestSpeed..flate.BestCompression).
func WithCompressionLevel(level int) Option {
	return func(b *Builder) {
		b.level = level
	}
}

// WithClassifier skips directories the classifier treats as cache directories.
func WithClassifier(c *classify.Classifier) Option {
	return func(b *Builder) {
		b.classifier = c
	}
}

// Builder snapshots a source tree into a zip archive in the destination.
type Builder struct {
	source     string
	dest       string
	sourceName string

	fs         afero.Fs
	sink       status.Sink
	logger     *slog.Logger
	now        func() time.Time
	level      int
	classifier *classify.Classifier
}

// NewBuilder creates a Builder for source writing archives into dest.
func NewBuilder(source, dest string, opts ...Option) (*Builder, error) {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path; %w", err)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination path; %w", err)
	}

	b := &Builder{
		source:     absSource,
		dest:       absDest,
		sourceName: filepath.Base(absSource),
		fs:         afero.NewOsFs(),
		sink:       status.Discard,
		logger:     slog.Default(),
		now:        time.Now,
		level:      flate.DefaultCompression,
	}

	for _, opt := range opts {
		opt(b)
	}

	// A linked source root is walked through its target.
	if _, ok := b.fs.(*afero.OsFs); ok {
		if resolved, err := filepath.EvalSymlinks(absSource); err == nil {
			b.source = resolved
		}
	}

	return b, nil
}

// SourceName returns the name embedded in archive filenames.
func (b *Builder) SourceName() string {
	return b.sourceName
}

// Build writes a snapshot of the source tree tagged with tag. On any failure
// the temporary file is removed and no file appears under an archive name.
func (b *Builder) Build(ctx context.Context, tag classify.Tag) (Result, error) {
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("build cancelled; %w", err)
	}

	info, err := b.fs.Stat(b.source)
	if err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrSourceUnavailable, b.source)
	}

	if err := b.fs.MkdirAll(b.dest, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: failed to create destination; %v", ErrWrite, err)
	}
	destInfo, _ := b.fs.Stat(b.dest)

	tmp, err := afero.TempFile(b.fs, b.dest, tempPattern)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to create temp file; %v", ErrWrite, err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			if err := b.fs.Remove(tmpName); err != nil && !os.IsNotExist(err) {
				b.logger.Warn("failed to remove temp archive", "path", tmpName, "error", err)
			}
		}
	}()

	createdAt := b.now().Truncate(time.Second)
	res := Result{}

	buf := bufio.NewWriterSize(tmp, 256*1024)
	zw := zip.NewWriter(buf)
	level := b.level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	walkErr := afero.Walk(b.fs, b.source, func(path string, fi os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == b.source {
				return err
			}
			res.Skipped++
			status.Warnf(b.sink, "Skipped unreadable path %s: %v", b.rel(path), err)
			return nil
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			target, statErr := b.fs.Stat(path)
			if statErr != nil {
				res.Skipped++
				status.Warnf(b.sink, "Skipped broken link %s: %v", b.rel(path), statErr)
				return nil
			}
			if target.IsDir() {
				b.logger.Debug("not following directory link", "path", path)
				return nil
			}
			fi = target
		}

		if fi.IsDir() {
			if path == b.source {
				return nil
			}
			if b.isDestination(path, fi, destInfo) {
				b.logger.Debug("skipping nested destination", "path", path)
				return filepath.SkipDir
			}
			if b.classifier != nil && b.classifier.IsCacheDirName(fi.Name()) {
				b.logger.Debug("skipping cache directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		n, ok, err := b.addFile(zw, path, fi)
		if err != nil {
			return err
		}
		if !ok {
			res.Skipped++
			return nil
		}
		res.Files++
		res.Bytes += n
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("build cancelled; %w", ctx.Err())
		}
		if errors.Is(walkErr, ErrWrite) {
			return Result{}, walkErr
		}
		return Result{}, fmt.Errorf("%w: failed to walk source; %v", ErrWrite, walkErr)
	}

	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: failed to finalize archive; %v", ErrWrite, err)
	}
	if err := buf.Flush(); err != nil {
		return Result{}, fmt.Errorf("%w: failed to flush archive; %v", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, fmt.Errorf("%w: failed to sync archive; %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: failed to close archive; %v", ErrWrite, err)
	}

	finalPath, seq, err := b.commit(tmpName, tag, createdAt)
	if err != nil {
		return Result{}, err
	}
	committed = true

	var size int64
	if fi, err := b.fs.Stat(finalPath); err == nil {
		size = fi.Size()
	}

	res.Record = Record{
		Path:      finalPath,
		Name:      filepath.Base(finalPath),
		Source:    b.sourceName,
		Tag:       tag,
		CreatedAt: createdAt,
		Seq:       seq,
		Size:      size,
	}
	res.Duration = time.Since(started)

	b.logger.Debug("archive written",
		"path", finalPath,
		"files", res.Files,
		"skipped", res.Skipped,
		"bytes", res.Bytes,
		"duration", res.Duration)

	return res, nil
}

// commit renames the temp file to the first free archive name.
func (b *Builder) commit(tmpName string, tag classify.Tag, createdAt time.Time) (string, int, error) {
	for seq := 0; seq < 1000; seq++ {
		candidate := filepath.Join(b.dest, FileName(b.sourceName, tag, createdAt, seq))
		if _, err := b.fs.Stat(candidate); err == nil {
			continue
		}
		if err := b.fs.Rename(tmpName, candidate); err != nil {
			return "", 0, fmt.Errorf("%w: failed to rename archive; %v", ErrWrite, err)
		}
		return candidate, seq, nil
	}
	return "", 0, fmt.Errorf("%w: no free archive name for %s", ErrWrite, createdAt.Format(TimeLayout))
}

// addFile copies one file into the archive. ok is false when the file could
// not be read; err is set only for failures writing the archive itself.
// The file is read in full before its entry is created, so a read failure
// leaves no partial entry behind.
func (b *Builder) addFile(zw *zip.Writer, path string, fi os.FileInfo) (int64, bool, error) {
	rel := b.rel(path)

	f, err := b.fs.Open(path)
	if err != nil {
		status.Warnf(b.sink, "Skipped unreadable file %s: %v", rel, err)
		return 0, false, nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		status.Warnf(b.sink, "Skipped file %s, read failed after %s: %v",
			rel, humanize.Bytes(uint64(len(data))), err)
		b.logger.Warn("file left out of archive", "path", rel, "read_bytes", len(data), "error", err)
		return 0, false, nil
	}

	header, err := zip.FileInfoHeader(fi)
	if err != nil {
		return 0, false, fmt.Errorf("%w: failed to build header for %s; %v", ErrWrite, rel, err)
	}
	header.Name = rel
	header.Method = zip.Deflate
	header.Modified = fi.ModTime()

	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, false, fmt.Errorf("%w: failed to add %s; %v", ErrWrite, rel, err)
	}

	n, err := w.Write(data)
	if err != nil {
		return 0, false, fmt.Errorf("%w: failed to write %s; %v", ErrWrite, rel, err)
	}

	return int64(n), true, nil
}

// isDestination reports whether dir is the destination directory.
func (b *Builder) isDestination(dir string, fi, destInfo os.FileInfo) bool {
	if filepath.Clean(dir) == b.dest {
		return true
	}
	return destInfo != nil && os.SameFile(fi, destInfo)
}

// rel returns path relative to the source with forward slashes.
func (b *Builder) rel(path string) string {
	rel, err := filepath.Rel(b.source, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
