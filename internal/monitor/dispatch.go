package monitor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
)

// run is the single dispatcher loop. Every platform watcher feeds the same
// channel, so ordering within one directory is preserved and listener
// bookkeeping needs no further synchronization beyond the registry.
func (m *Monitor) run() {
	for {
		select {
		case raw := <-m.events:
			m.handleRaw(raw)
		case <-m.done:
			return
		}
	}
}

func (m *Monitor) handleRaw(raw RawEvent) {
	// Snapshot the interested listeners before any registry mutation below.
	regs := m.registry.listenersFor(raw.Dir)

	if raw.Kind == RawDeleted && filepath.Clean(raw.Path) == raw.Dir {
		m.registry.dropDirectory(raw.Dir)
	}
	if raw.Kind == RawCreated && raw.IsDir {
		m.extendWatches(raw)
	}

	logical, ok := m.classify(raw)
	if !ok {
		return
	}
	m.bus.Publish(logical)

	for _, reg := range regs {
		state := reg.currentState()
		if state != stateActive {
			continue
		}
		if !reg.matcher.Match(raw.Path) {
			continue
		}
		if !m.safeFilter(reg, raw.Path) {
			continue
		}
		if reg.debounce <= 0 {
			m.deliver(reg, logical)
			continue
		}
		key := pendingKey{listenerID: reg.id, path: raw.Path}
		if m.debounce.schedule(key, logical, reg.debounce, m.flushPending) {
			m.eventsCoalesced.Add(1)
		}
	}
}

// classify maps a raw event onto the logical event type, synthesizing
// symlink target changes from modify events on known links. The second
// return is false for raw events with no logical counterpart (directory
// modifications, symlink modifications whose target did not move).
func (m *Monitor) classify(raw RawEvent) (Event, bool) {
	logical := Event{Path: raw.Path, Timestamp: raw.Timestamp}

	if raw.IsSymlink {
		switch raw.Kind {
		case RawCreated:
			logical.Type = SymlinkCreated
			if m.cfg.FollowSymlinks {
				if err := m.resolver.record(raw.Path); err != nil && errors.Is(err, ErrCircularSymlink) {
					m.logger.Warn("circular symlink excluded", map[string]string{"path": raw.Path})
				}
			}
		case RawDeleted:
			logical.Type = SymlinkDeleted
			m.resolver.forget(raw.Path)
		case RawModified:
			if !m.cfg.FollowSymlinks {
				return Event{}, false
			}
			oldTarget, newTarget, changed, err := m.resolver.targetChanged(raw.Path)
			if err != nil {
				if errors.Is(err, ErrCircularSymlink) {
					m.logger.Warn("circular symlink excluded", map[string]string{"path": raw.Path})
				}
				return Event{}, false
			}
			if !changed {
				return Event{}, false
			}
			logical.Type = SymlinkTargetChanged
			logical.OldTarget = oldTarget
			logical.NewTarget = newTarget
		}
		return logical, true
	}

	switch raw.Kind {
	case RawCreated:
		if raw.IsDir {
			logical.Type = DirectoryCreated
		} else {
			logical.Type = FileCreated
		}
	case RawDeleted:
		if raw.IsDir {
			logical.Type = DirectoryDeleted
		} else {
			logical.Type = FileDeleted
		}
	case RawModified:
		if raw.IsDir {
			// No logical callback exists for directory modification.
			return Event{}, false
		}
		logical.Type = FileModified
	}
	return logical, true
}

// extendWatches grows listener watch sets when a new directory appears:
// recursive roots cover it directly, and patterns with intermediate
// wildcards are re-expanded against the filesystem.
func (m *Monitor) extendWatches(raw RawEvent) {
	m.mu.Lock()
	regs := make([]*registration, 0, len(m.byID))
	for _, reg := range m.byID {
		regs = append(regs, reg)
	}
	m.mu.Unlock()

	for _, reg := range regs {
		if !reg.isActive() {
			continue
		}
		if root, ok := reg.matcher.RecursiveRoot(); ok && isWithinPath(root, raw.Path) {
			m.extendInto(reg, raw.Path)
			continue
		}
		if reg.matcher.ExpandsOnNewDirs() && reg.hasDir(raw.Dir) {
			for _, watchDir := range reg.matcher.MinimalDirs() {
				if reg.hasDir(watchDir.Path) {
					continue
				}
				m.extendInto(reg, watchDir.Path)
			}
		}
	}
}

// extendInto acquires dir (and, for burst creation, anything already nested
// below it) for reg, then scans it so entries created before the watch was
// live still reach the listener.
func (m *Monitor) extendInto(reg *registration, dir string) {
	dirs := []string{dir}
	if _, recursive := reg.matcher.RecursiveRoot(); recursive {
		if nested, err := collectSubdirs(dir); err == nil {
			dirs = append(dirs, nested...)
		}
	}
	for _, candidate := range dirs {
		if reg.hasDir(candidate) {
			continue
		}
		if err := m.registry.acquire(candidate, reg); err != nil {
			m.logger.Warn("watch extension failed", map[string]string{
				"path":  candidate,
				"error": err.Error(),
			})
			continue
		}
		m.bootstrapScan(reg, candidate)
	}
}

// flushPending fires when a debounce timer expires: it delivers the latest
// pending event for the key, unless the listener was unregistered in the
// meantime.
func (m *Monitor) flushPending(key pendingKey) {
	logical, ok := m.debounce.pop(key)
	if !ok {
		return
	}

	m.mu.Lock()
	reg, ok := m.byID[key.listenerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.deliver(reg, logical)
}

// deliver invokes the matching callback. Panics are contained and counted;
// they never abort the dispatcher or affect other listeners. Deliveries are
// accepted while the registration is active or still bootstrapping.
func (m *Monitor) deliver(reg *registration, logical Event) {
	state := reg.currentState()
	if state != stateActive && state != stateRegistering {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			m.callbackPanics.Add(1)
			m.logger.Error("listener callback panicked", map[string]string{
				"listener": strconv.FormatUint(reg.id, 10),
				"type":     string(logical.Type),
				"path":     logical.Path,
				"panic":    fmt.Sprint(recovered),
			})
		}
	}()

	switch logical.Type {
	case FileCreated:
		reg.listener.OnFileCreated(logical.Path)
	case FileModified:
		reg.listener.OnFileModified(logical.Path)
	case FileDeleted:
		reg.listener.OnFileDeleted(logical.Path)
	case DirectoryCreated:
		reg.listener.OnDirectoryCreated(logical.Path)
	case DirectoryDeleted:
		reg.listener.OnDirectoryDeleted(logical.Path)
	case SymlinkCreated:
		reg.listener.OnSymlinkCreated(logical.Path)
	case SymlinkDeleted:
		reg.listener.OnSymlinkDeleted(logical.Path)
	case SymlinkTargetChanged:
		reg.listener.OnSymlinkTargetChanged(logical.Path, logical.OldTarget, logical.NewTarget)
	default:
		return
	}
	m.eventsDelivered.Add(1)
}
