package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/leefowlercu/atlas-archive/internal/metrics"
)

var (
	// ErrBusClosed is returned by Publish after Close.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrInvalidPayload is returned by Publish when a payload does not match
	// its event type.
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Bus delivers session events to subscribers.
type Bus interface {
	// Publish hands event to every interested subscriber without blocking.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers handler for the given types, or for every type when
	// none are given. The returned function removes the subscription.
	Subscribe(handler EventHandler, types ...EventType) (unsubscribe func())

	// Close stops accepting events and waits for handlers to drain.
	Close() error
}

// mailbox is one subscriber: a filter, a buffer and the goroutine that
// drains it.
type mailbox struct {
	id      uint64
	types   []EventType
	handler EventHandler
	queue   chan Event
	dropped atomic.Int64
	once    sync.Once
}

func (m *mailbox) wants(t EventType) bool {
	return len(m.types) == 0 || slices.Contains(m.types, t)
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.queue) })
}

// EventBus is the in-process Bus. Each subscriber runs on its own goroutine,
// so a slow handler only delays its own events; when its buffer is full new
// events for it are dropped and counted.
type EventBus struct {
	logger     *slog.Logger
	bufferSize int

	mu        sync.RWMutex
	mailboxes map[uint64]*mailbox
	closed    bool
	nextID    uint64
	handlers  sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithBufferSize sets the per-subscriber buffer. Non-positive sizes are ignored.
func WithBufferSize(size int) BusOption {
	return func(b *EventBus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger used for dropped events and handler panics.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// NewBus creates an open EventBus.
func NewBus(opts ...BusOption) *EventBus {
	b := &EventBus{
		logger:     slog.Default(),
		bufferSize: 64,
		mailboxes:  make(map[uint64]*mailbox),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish validates event and queues it for each interested subscriber.
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)

	for _, mb := range b.mailboxes {
		if !mb.wants(event.Type) {
			continue
		}
		select {
		case mb.queue <- event:
		default:
			mb.dropped.Add(1)
			b.dropped.Add(1)
			metrics.EventBusDroppedEvents.WithLabelValues(string(event.Type)).Inc()
			b.logger.Warn("subscriber buffer full; event dropped",
				"event_type", event.Type,
				"subscriber_id", mb.id)
		}
	}
	return nil
}

// Subscribe registers handler. After Close it returns a no-op.
func (b *EventBus) Subscribe(handler EventHandler, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	mb := &mailbox{
		id:      b.nextID,
		types:   slices.Clone(types),
		handler: handler,
		queue:   make(chan Event, b.bufferSize),
	}
	b.mailboxes[mb.id] = mb

	b.handlers.Add(1)
	go b.deliver(mb)

	return func() { b.remove(mb.id) }
}

// deliver runs handler for each queued event until the mailbox is closed.
// Events queued before the close are still delivered.
func (b *EventBus) deliver(mb *mailbox) {
	defer b.handlers.Done()
	for event := range mb.queue {
		b.call(mb, event)
	}
}

func (b *EventBus) call(mb *mailbox, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscriber_id", mb.id,
				"event_type", event.Type,
				"panic", r)
		}
	}()
	mb.handler(event)
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	mb, ok := b.mailboxes[id]
	delete(b.mailboxes, id)
	b.mu.Unlock()

	if ok {
		mb.close()
	}
}

// Close rejects further events and returns once every handler has finished
// the events already queued. Calling it again is a no-op.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	boxes := b.mailboxes
	b.mailboxes = make(map[uint64]*mailbox)
	b.mu.Unlock()

	for _, mb := range boxes {
		mb.close()
	}
	b.handlers.Wait()
	return nil
}

// BusStats is a snapshot of bus activity.
type BusStats struct {
	Subscribers int
	Published   int64
	Dropped     int64
	Closed      bool
}

// Stats returns a snapshot of bus activity.
func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BusStats{
		Subscribers: len(b.mailboxes),
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Closed:      b.closed,
	}
}
