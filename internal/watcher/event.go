package watcher

import "time"

// EventType represents the type of page directory event.
type EventType int

const (
	// EventAdded is emitted when a new blob appears (after settling).
	EventAdded EventType = iota
	// EventModified is emitted when an existing blob is rewritten in place (after settling).
	EventModified
	// EventRemoved is emitted when a blob is deleted or renamed away.
	EventRemoved
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event represents a change to one page blob.
type Event struct {
	Type EventType

	// Path is the blob's full path; Ref is its name inside the page directory.
	Path string
	Ref  string

	// Size and ModTime are zero for removals.
	Size    int64
	ModTime time.Time
}
