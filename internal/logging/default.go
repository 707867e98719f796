package logging

import (
	"log/slog"
	"sync/atomic"
)

var defaultManager atomic.Pointer[Manager]

// SetDefault installs m as the process manager and its logger as the slog
// default.
func SetDefault(m *Manager) {
	defaultManager.Store(m)
	slog.SetDefault(m.Logger())
}

// Default returns the manager installed by SetDefault, or nil.
func Default() *Manager {
	return defaultManager.Load()
}
