package events

import "time"

// SessionEvent contains data for session lifecycle events.
type SessionEvent struct {
	// SessionID identifies the watch session.
	SessionID string

	// Source is the watched directory.
	Source string

	// Destination is the archive directory.
	Destination string

	// Reason explains why a session stopped ("requested" or the failure text).
	Reason string
}

// ChangeEvent contains data for a change forwarded to the debouncer.
type ChangeEvent struct {
	SessionID string

	// Path is relative to the watched root.
	Path string

	Category string
	Op       string
}

// BackupEvent contains data for backup lifecycle events.
type BackupEvent struct {
	SessionID string

	// Tag is the batch tag embedded in the archive name.
	Tag string

	// Path is the final archive path (empty until completed).
	Path string

	Files    int
	Skipped  int
	Size     int64
	Duration time.Duration

	// Error is set for BackupFailed.
	Error string
}

// PruneEvent contains data for a deleted archive.
type PruneEvent struct {
	SessionID string
	Path      string
	CreatedAt time.Time
}
