// Package events provides an in-process pub/sub event bus that lets front-ends
// and integrations observe a watch session without coupling to it.
package events

import "time"

// EventType names an event. Values are dotted "<subject>.<verb>" strings.
type EventType string

// Session lifecycle.
const (
	SessionStarted EventType = "session.started"
	SessionStopped EventType = "session.stopped"
)

// ChangeDetected is published for every change forwarded to the debouncer.
const ChangeDetected EventType = "change.detected"

// Backup lifecycle. BackupStarted fires when a debounced trigger (or a
// one-shot backup) begins writing an archive.
const (
	BackupStarted   EventType = "backup.started"
	BackupCompleted EventType = "backup.completed"
	BackupFailed    EventType = "backup.failed"
)

// ArchivePruned is published once per archive deleted by retention.
const ArchivePruned EventType = "archive.pruned"

// Event is one published occurrence. Payload is a pointer to the struct
// matching Type (see Validate).
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType EventType, payload any) Event {
	return Event{Type: eventType, Timestamp: time.Now(), Payload: payload}
}

// EventHandler processes one event. Handlers run on the subscriber's own
// goroutine.
type EventHandler func(event Event)
