package events

import "fmt"

// Validate reports a payload whose type does not belong to the event type.
// A nil payload is allowed.
func (e Event) Validate() error {
	if e.Payload == nil {
		return nil
	}

	var ok bool
	switch e.Type {
	case SessionStarted, SessionStopped:
		_, ok = e.Payload.(*SessionEvent)
	case ChangeDetected:
		_, ok = e.Payload.(*ChangeEvent)
	case BackupStarted, BackupCompleted, BackupFailed:
		_, ok = e.Payload.(*BackupEvent)
	case ArchivePruned:
		_, ok = e.Payload.(*PruneEvent)
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	if !ok {
		return fmt.Errorf("event %q carries %T", e.Type, e.Payload)
	}
	return nil
}
