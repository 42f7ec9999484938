// Package monitor implements the file system monitor: listener-based,
// debounced change notification over shared per-directory watches.
//
// Callers register Listeners carrying a glob pattern, an optional path
// filter, a debounce delay, and callbacks for the logical event kinds. The
// monitor guarantees at most one underlying watch per physical directory
// regardless of how many listeners overlap on it, coalesces event bursts per
// (listener, path) with last-write-wins semantics, and resolves symbolic
// links with bounded-depth cycle detection.
//
// Delivery is best-effort once a handle is live: steady-state failures
// (inaccessible directories, panicking callbacks) are logged and contained,
// never propagated to other listeners.
package monitor
