package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// SwappableHandler forwards records to a handler that can be replaced at
// runtime. Handlers derived through WithAttrs and WithGroup share the same
// slot, so loggers created before a Swap follow it.
type SwappableHandler struct {
	slot *atomic.Pointer[slog.Handler]

	// derive re-applies this handler's attrs and groups to the slot's handler
	derive func(slog.Handler) slog.Handler
}

// NewSwappableHandler creates a handler with an initial handler.
func NewSwappableHandler(initial slog.Handler) *SwappableHandler {
	slot := new(atomic.Pointer[slog.Handler])
	slot.Store(&initial)
	return &SwappableHandler{slot: slot}
}

// Swap atomically replaces the underlying handler for this handler and
// every handler derived from it.
func (sh *SwappableHandler) Swap(newHandler slog.Handler) {
	sh.slot.Store(&newHandler)
}

func (sh *SwappableHandler) current() slog.Handler {
	h := *sh.slot.Load()
	if sh.derive != nil {
		h = sh.derive(h)
	}
	return h
}

// Enabled reports whether the handler handles records at the given level.
func (sh *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return sh.current().Enabled(ctx, level)
}

// Handle handles the Record.
func (sh *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return sh.current().Handle(ctx, r)
}

// WithAttrs returns a SwappableHandler that adds attrs to every record.
func (sh *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return sh
	}
	return sh.chain(func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})
}

// WithGroup returns a SwappableHandler that nests later attrs under name.
func (sh *SwappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return sh
	}
	return sh.chain(func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})
}

func (sh *SwappableHandler) chain(step func(slog.Handler) slog.Handler) *SwappableHandler {
	prev := sh.derive
	return &SwappableHandler{
		slot: sh.slot,
		derive: func(h slog.Handler) slog.Handler {
			if prev != nil {
				h = prev(h)
			}
			return step(h)
		},
	}
}
