// Package logging owns the process logger: text on stderr from startup,
// then JSON to a size-rotated file once configuration is known.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes the rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithConsole sets the writer used for text output. Defaults to os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(m *Manager) {
		m.console = w
	}
}

// Manager handles logger lifecycle including bootstrap-to-full mode transitions.
// Components should obtain a logger via Logger() and use it for all logging.
type Manager struct {
	handler *SwappableHandler
	logger  *slog.Logger
	console io.Writer
	rotator *lumberjack.Logger
	level   *slog.LevelVar
	cLevel  *slog.LevelVar
	mu      sync.Mutex
}

// NewManager creates a logging manager in bootstrap mode.
// Bootstrap mode writes only to the console using text format.
// Call Upgrade() after config is available to enable file logging.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		console: os.Stderr,
		level:   new(slog.LevelVar),
		cLevel:  new(slog.LevelVar),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.level.Set(DefaultLevel)
	m.cLevel.Set(DefaultLevel)

	bootstrap := slog.NewTextHandler(m.console, &slog.HandlerOptions{Level: m.cLevel})
	m.handler = NewSwappableHandler(bootstrap)
	m.logger = slog.New(m.handler)

	return m
}

// Logger returns the current logger instance.
// The returned logger is stable across Upgrade calls.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Upgrade transitions from bootstrap mode to full mode: warnings and errors
// as text on the console, everything at level as JSON in the rotated file.
// Calling it again reopens the file with the new settings.
func (m *Manager) Upgrade(file FileConfig, level slog.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkWritable(file.Path); err != nil {
		return err
	}

	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
		LocalTime:  true,
	}

	if m.rotator != nil {
		_ = m.rotator.Close()
	}
	m.rotator = rotator

	m.setLevel(level)

	fullHandler := slogmulti.Fanout(
		slog.NewTextHandler(m.console, &slog.HandlerOptions{Level: m.cLevel}),
		slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: m.level}),
	)

	// All future log calls use the new handler
	m.handler.Swap(fullHandler)

	return nil
}

// checkWritable creates the parent directory and makes sure the file can
// be opened for append, since lumberjack only opens it on first write.
func checkWritable(path string) error {
	if path == "" {
		return fmt.Errorf("log file path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %q; %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q; %w", path, err)
	}
	return f.Close()
}

// SetLevel changes the log level at runtime.
// Applies immediately to all future log calls.
func (m *Manager) SetLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLevel(level)
}

func (m *Manager) setLevel(level slog.Level) {
	m.level.Set(level)
	if m.rotator == nil {
		m.cLevel.Set(level)
		return
	}
	m.cLevel.Set(consoleLevel(level))
}

// Level returns the current file log level.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

// Close cleanly shuts down the logger, closing any open file handles.
// Should be called during application shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rotator != nil {
		err := m.rotator.Close()
		m.rotator = nil
		return err
	}
	return nil
}
