package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestBus_DeliversInOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	bus.Subscribe(c.handle)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(SessionStarted, &SessionEvent{SessionID: "s1"})))
	require.NoError(t, bus.Publish(ctx, NewEvent(BackupStarted, &BackupEvent{Tag: "Autosave"})))
	require.NoError(t, bus.Publish(ctx, NewEvent(BackupCompleted, &BackupEvent{Tag: "Autosave"})))

	// Close waits for queued events to be handled
	require.NoError(t, bus.Close())
	assert.Equal(t, []EventType{SessionStarted, BackupStarted, BackupCompleted}, c.types())
}

func TestBus_SubscribeFiltersTypes(t *testing.T) {
	bus := NewBus()
	backups := &collector{}
	all := &collector{}
	bus.Subscribe(backups.handle, BackupCompleted, BackupFailed)
	bus.Subscribe(all.handle)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(ChangeDetected, &ChangeEvent{Path: "save.hg"})))
	require.NoError(t, bus.Publish(ctx, NewEvent(BackupFailed, &BackupEvent{Error: "disk full"})))
	require.NoError(t, bus.Close())

	assert.Equal(t, []EventType{BackupFailed}, backups.types())
	assert.Equal(t, []EventType{ChangeDetected, BackupFailed}, all.types())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	unsubscribe := bus.Subscribe(func(Event) { count.Add(1) })
	assert.Equal(t, 1, bus.Stats().Subscribers)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.Stats().Subscribers)

	require.NoError(t, bus.Publish(context.Background(), NewEvent(SessionStopped, nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, count.Load())
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(Event) {})

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "second Close is a no-op")

	stats := bus.Stats()
	assert.True(t, stats.Closed)
	assert.Zero(t, stats.Subscribers)

	err := bus.Publish(context.Background(), NewEvent(SessionStarted, nil))
	assert.True(t, errors.Is(err, ErrBusClosed))

	// Subscribing after Close is allowed and does nothing
	bus.Subscribe(func(Event) { t.Error("handler called after close") })()
}

func TestBus_PublishRejectsMismatchedPayload(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	err := bus.Publish(context.Background(), NewEvent(BackupCompleted, &PruneEvent{}))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.Zero(t, bus.Stats().Published)
}

func TestBus_PublishCancelledContext(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Publish(ctx, NewEvent(SessionStarted, nil))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBus_DropsWhenSubscriberBufferFull(t *testing.T) {
	bus := NewBus(WithBufferSize(1))

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	bus.Subscribe(func(Event) {
		once.Do(func() { close(started) })
		<-release
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(ChangeDetected, nil)))
	<-started // first event is being handled, buffer is empty again
	require.NoError(t, bus.Publish(ctx, NewEvent(ChangeDetected, nil)))
	require.NoError(t, bus.Publish(ctx, NewEvent(ChangeDetected, nil)))

	stats := bus.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(1), stats.Dropped)

	close(release)
	require.NoError(t, bus.Close())
}

func TestBus_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	bus.Subscribe(func(e Event) {
		if e.Type == BackupFailed {
			panic("boom")
		}
		c.handle(e)
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, NewEvent(BackupFailed, nil)))
	require.NoError(t, bus.Publish(ctx, NewEvent(BackupCompleted, nil)))
	require.NoError(t, bus.Close())

	assert.Equal(t, []EventType{BackupCompleted}, c.types())
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := NewBus(WithBufferSize(1000))
	var received atomic.Int32
	bus.Subscribe(func(Event) { received.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = bus.Publish(context.Background(), NewEvent(ChangeDetected, &ChangeEvent{}))
			}
		}()
		go func() {
			defer wg.Done()
			bus.Subscribe(func(Event) {})()
		}()
	}
	wg.Wait()
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(500), received.Load())
	assert.Zero(t, bus.Stats().Subscribers)
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"matching payload", NewEvent(BackupCompleted, &BackupEvent{}), false},
		{"session payload", NewEvent(SessionStarted, &SessionEvent{}), false},
		{"change payload", NewEvent(ChangeDetected, &ChangeEvent{}), false},
		{"prune payload", NewEvent(ArchivePruned, &PruneEvent{}), false},
		{"nil payload", NewEvent(SessionStopped, nil), false},
		{"wrong payload", NewEvent(BackupFailed, &PruneEvent{}), true},
		{"value instead of pointer", NewEvent(SessionStarted, SessionEvent{}), true},
		{"unknown type", NewEvent(EventType("other"), &SessionEvent{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
