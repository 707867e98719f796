package watcher

import (
	"os"
	"sync"
	"time"

	"github.com/leefowlercu/atlas-archive/internal/classify"
)

// DefaultDebounceWindow is the quiet period used when none is configured.
const DefaultDebounceWindow = 5 * time.Second

// Trigger is emitted once per burst of changes after the quiet period.
type Trigger struct {
	Tag        classify.Tag
	Events     int
	FirstEvent time.Time
	LastEvent  time.Time
	FiredAt    time.Time
}

// PendingBatch is the in-flight accumulation state of a Debouncer.
type PendingBatch struct {
	FirstEventTime     time.Time
	LastEventTime      time.Time
	HasQualifyingEvent bool
	Count              int

	categories map[classify.Category]bool
	removed    map[string]bool
}

// DebouncerOption configures the Debouncer.
type DebouncerOption func(*Debouncer)

// WithExistsFunc sets the function used at firing time to decide whether a
// removed path is a true deletion. The default uses os.Lstat on the event path.
func WithExistsFunc(fn func(path string) bool) DebouncerOption {
	return func(d *Debouncer) {
		d.exists = fn
	}
}

// Debouncer collapses bursts of changes into a single trailing-edge trigger.
type Debouncer struct {
	window time.Duration
	exists func(path string) bool

	mu       sync.Mutex
	pending  *PendingBatch
	timer    *time.Timer
	gen      uint64
	stopped  bool
	stopCh   chan struct{}
	triggers chan Trigger
}

// NewDebouncer creates a Debouncer with the given quiet period.
func NewDebouncer(window time.Duration, opts ...DebouncerOption) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}

	d := &Debouncer{
		window:   window,
		exists:   pathExists,
		stopCh:   make(chan struct{}),
		triggers: make(chan Trigger, 1),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Add records a qualifying change and re-arms the quiet-period timer.
func (d *Debouncer) Add(event classify.ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || event.Category == classify.Ignored {
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if d.pending == nil {
		d.pending = &PendingBatch{
			FirstEventTime: ts,
			categories:     make(map[classify.Category]bool),
			removed:        make(map[string]bool),
		}
	}

	p := d.pending
	p.LastEventTime = ts
	p.HasQualifyingEvent = true
	p.Count++
	p.categories[event.Category] = true
	// A rename reports the old name, which a write-then-rename save never
	// recreates. Only removes count toward a deletion.
	if event.Op == classify.OpRemove {
		p.removed[event.Path] = true
	}

	// Stop existing timer (fire() checks the generation, so late fires are safe)
	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() {
		d.fire(gen)
	})
}

// Triggers returns the channel of backup triggers.
func (d *Debouncer) Triggers() <-chan Trigger {
	return d.triggers
}

// Pending returns a copy of the current batch state, if a timer is armed.
func (d *Debouncer) Pending() (PendingBatch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return PendingBatch{}, false
	}
	return PendingBatch{
		FirstEventTime:     d.pending.FirstEventTime,
		LastEventTime:      d.pending.LastEventTime,
		HasQualifyingEvent: d.pending.HasQualifyingEvent,
		Count:              d.pending.Count,
	}, true
}

// Stop cancels any armed timer without emitting. Add after Stop is a no-op.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()

	close(d.stopCh)
}

// fire emits the pending batch if gen is still the latest arming.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}

	p := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	trueDeletion := false
	for path := range p.removed {
		if !d.exists(path) {
			trueDeletion = true
			break
		}
	}

	trigger := Trigger{
		Tag:        classify.ResolveTag(p.categories, trueDeletion),
		Events:     p.Count,
		FirstEvent: p.FirstEventTime,
		LastEvent:  p.LastEventTime,
		FiredAt:    time.Now(),
	}

	select {
	case d.triggers <- trigger:
	case <-d.stopCh:
	}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
