// Package lockfile claims a directory for a single process with a PID file.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Name is the lock file name placed in a destination directory.
const Name = ".atlas.lock"

// ErrLocked indicates that another live process holds the lock.
var ErrLocked = errors.New("destination is locked by another process")

// Lock is a PID-based lock file.
type Lock struct {
	path string
	held bool
}

// New creates a Lock at path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// ForDir creates a Lock named Name inside dir.
func ForDir(dir string) *Lock {
	return New(filepath.Join(dir, Name))
}

// Path returns the path to the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Holder returns the PID recorded in the lock file.
func (l *Lock) Holder() (int, error) {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read lock file; %w", err)
	}

	pidStr := strings.TrimSpace(string(content))
	if pidStr == "" {
		return 0, errors.New("empty lock file")
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in lock file; %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID %d; must be positive", pid)
	}

	return pid, nil
}

// IsStale reports whether the lock file names a process that is no longer
// running. A missing file is not stale. An unparsable file is stale.
func (l *Lock) IsStale() (bool, error) {
	pid, err := l.Holder()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if _, statErr := os.Stat(l.path); os.IsNotExist(statErr) {
			return false, nil
		}
		if errors.Is(err, os.ErrPermission) {
			return false, fmt.Errorf("lock file exists but unreadable; %w", err)
		}
		return true, nil
	}

	// Signal 0 only checks that the process exists
	err = syscall.Kill(pid, 0)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return true, nil
		}
		if errors.Is(err, syscall.EPERM) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check process; %w", err)
	}

	return false, nil
}

// Acquire claims the lock for the current process. A stale lock is replaced;
// a live one yields ErrLocked.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory; %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				os.Remove(l.path)
				return fmt.Errorf("failed to write lock file; %w", errors.Join(writeErr, closeErr))
			}
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file; %w", err)
		}

		stale, err := l.IsStale()
		if err != nil {
			return fmt.Errorf("failed to check if lock is stale; %w", err)
		}
		if !stale {
			return ErrLocked
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock file; %w", err)
		}
	}

	return ErrLocked
}

// Release removes the lock file if this Lock acquired it.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file; %w", err)
	}
	return nil
}
