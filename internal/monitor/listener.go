package monitor

import "time"

// Listener describes one caller's interest: a glob pattern, an optional
// path filter, a debounce delay, and callbacks for the logical event kinds.
//
// A listener is immutable once registered and is identified by interface
// equality on unregister, so callers should register pointer
// implementations. A DebounceDelay of zero inherits the monitor's
// configured default; a negative delay requests inline delivery from the
// dispatcher goroutine, preserving strict arrival order at the cost of
// coalescing.
type Listener interface {
	// Pattern is a Unix-style glob (*, **, ?); relative patterns resolve
	// against the monitor's root.
	Pattern() string
	// Filter reports whether a matched path should be delivered. It runs on
	// the dispatcher goroutine and, during the bootstrap scan, on the
	// registering caller's goroutine, so it must be fast and safe for
	// concurrent calls.
	Filter(path string) bool
	DebounceDelay() time.Duration

	OnFileCreated(path string)
	OnFileModified(path string)
	OnFileDeleted(path string)
	OnDirectoryCreated(path string)
	OnDirectoryDeleted(path string)
	OnSymlinkCreated(path string)
	OnSymlinkDeleted(path string)
	OnSymlinkTargetChanged(path, oldTarget, newTarget string)
}

// FuncListener adapts plain functions to the Listener interface. Nil
// callbacks are no-ops and a nil FilterFunc accepts every path, so callers
// populate only what they need.
type FuncListener struct {
	Glob       string
	Debounce   time.Duration
	FilterFunc func(path string) bool

	FileCreated     func(path string)
	FileModified    func(path string)
	FileDeleted     func(path string)
	DirCreated      func(path string)
	DirDeleted      func(path string)
	LinkCreated     func(path string)
	LinkDeleted     func(path string)
	LinkTargetMoved func(path, oldTarget, newTarget string)
}

var _ Listener = (*FuncListener)(nil)

func (l *FuncListener) Pattern() string              { return l.Glob }
func (l *FuncListener) DebounceDelay() time.Duration { return l.Debounce }

func (l *FuncListener) Filter(path string) bool {
	if l.FilterFunc == nil {
		return true
	}
	return l.FilterFunc(path)
}

func (l *FuncListener) OnFileCreated(path string) {
	if l.FileCreated != nil {
		l.FileCreated(path)
	}
}

func (l *FuncListener) OnFileModified(path string) {
	if l.FileModified != nil {
		l.FileModified(path)
	}
}

func (l *FuncListener) OnFileDeleted(path string) {
	if l.FileDeleted != nil {
		l.FileDeleted(path)
	}
}

func (l *FuncListener) OnDirectoryCreated(path string) {
	if l.DirCreated != nil {
		l.DirCreated(path)
	}
}

func (l *FuncListener) OnDirectoryDeleted(path string) {
	if l.DirDeleted != nil {
		l.DirDeleted(path)
	}
}

func (l *FuncListener) OnSymlinkCreated(path string) {
	if l.LinkCreated != nil {
		l.LinkCreated(path)
	}
}

func (l *FuncListener) OnSymlinkDeleted(path string) {
	if l.LinkDeleted != nil {
		l.LinkDeleted(path)
	}
}

func (l *FuncListener) OnSymlinkTargetChanged(path, oldTarget, newTarget string) {
	if l.LinkTargetMoved != nil {
		l.LinkTargetMoved(path, oldTarget, newTarget)
	}
}
