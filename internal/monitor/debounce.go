package monitor

import (
	"sync"
	"time"
)

type pendingKey struct {
	listenerID uint64
	path       string
}

type pendingEvent struct {
	timer *time.Timer
	event Event
}

// debouncer holds one pending event per (listener, path). A newer event for
// the same key supersedes the pending one and restarts its timer, so the
// callback fires once with the latest state.
type debouncer struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingEvent
	stopped bool
}

func newDebouncer() *debouncer {
	return &debouncer{entries: make(map[pendingKey]*pendingEvent)}
}

// schedule places or replaces the pending event for key and (re)starts its
// timer. It reports whether an earlier pending event was superseded.
func (d *debouncer) schedule(key pendingKey, event Event, delay time.Duration, flush func(pendingKey)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}

	if entry, ok := d.entries[key]; ok {
		entry.event = event
		entry.timer.Reset(delay)
		return true
	}
	entry := &pendingEvent{event: event}
	entry.timer = time.AfterFunc(delay, func() {
		flush(key)
	})
	d.entries[key] = entry
	return false
}

// pop removes and returns the pending event for key, if any.
func (d *debouncer) pop(key pendingKey) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[key]
	if !ok {
		return Event{}, false
	}
	delete(d.entries, key)
	return entry.event, true
}

// cancelListener drops every pending event for a listener; used on
// unregister so queued events are discarded rather than delivered.
func (d *debouncer) cancelListener(listenerID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, entry := range d.entries {
		if key.listenerID != listenerID {
			continue
		}
		entry.timer.Stop()
		delete(d.entries, key)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	for key, entry := range d.entries {
		entry.timer.Stop()
		delete(d.entries, key)
	}
}
