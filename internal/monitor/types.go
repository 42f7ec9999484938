package monitor

import "time"

// RawKind is the low-level change kind every backend normalizes to.
type RawKind uint8

const (
	RawCreated RawKind = iota
	RawModified
	RawDeleted
)

func (k RawKind) String() string {
	switch k {
	case RawCreated:
		return "created"
	case RawModified:
		return "modified"
	case RawDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RawEvent is emitted by platform watchers onto the monitor's shared
// channel. Dir is the watched directory that produced the event; Path is
// the absolute path of the changed entry (equal to Dir when the watched
// directory itself changed).
type RawEvent struct {
	Dir       string
	Path      string
	Kind      RawKind
	IsDir     bool
	IsSymlink bool
	Timestamp time.Time
}

// EventType names one of the logical listener callbacks.
type EventType string

const (
	FileCreated          EventType = "file_created"
	FileModified         EventType = "file_modified"
	FileDeleted          EventType = "file_deleted"
	DirectoryCreated     EventType = "directory_created"
	DirectoryDeleted     EventType = "directory_deleted"
	SymlinkCreated       EventType = "symlink_created"
	SymlinkDeleted       EventType = "symlink_deleted"
	SymlinkTargetChanged EventType = "symlink_target_changed"
)

// EventTypes lists every logical event type.
func EventTypes() []EventType {
	return []EventType{
		FileCreated, FileModified, FileDeleted,
		DirectoryCreated, DirectoryDeleted,
		SymlinkCreated, SymlinkDeleted, SymlinkTargetChanged,
	}
}

// ParseEventType validates an event type name from configuration.
func ParseEventType(name string) (EventType, bool) {
	for _, eventType := range EventTypes() {
		if string(eventType) == name {
			return eventType, true
		}
	}
	return "", false
}

// Event is a classified logical notification. OldTarget and NewTarget are
// set only for symlink_target_changed.
type Event struct {
	Type      EventType `json:"type"`
	Path      string    `json:"path"`
	OldTarget string    `json:"old_target,omitempty"`
	NewTarget string    `json:"new_target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is a point-in-time snapshot of monitor counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsCoalesced uint64
	CallbackPanics  uint64
	PollFallbacks   uint64
}
