package monitor

// WatchHandle is returned by RegisterListener. It owns no resources itself:
// Unregister delegates to the monitor, and the handle stays useful only for
// inspecting the registration it refers to.
type WatchHandle struct {
	monitor *Monitor
	reg     *registration
}

// ListWatchedPaths returns the directories currently watched on behalf of
// the listener, sorted.
func (h *WatchHandle) ListWatchedPaths() []string {
	if h == nil || h.reg == nil {
		return nil
	}
	return h.reg.watchedDirs()
}

// IsActive reports whether the listener is still dispatched to.
func (h *WatchHandle) IsActive() bool {
	if h == nil || h.reg == nil {
		return false
	}
	return h.reg.isActive()
}

// Unregister removes the listener. Idempotent.
func (h *WatchHandle) Unregister() {
	if h == nil || h.monitor == nil || h.reg == nil {
		return
	}
	h.monitor.unregister(h.reg)
}
