package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
	"fsmonitor/internal/pattern"
)

type listenerState int32

const (
	stateUnregistered listenerState = iota
	stateRegistering
	stateActive
	stateUnregistering
	stateRemoved
)

// registration is the monitor's record of one registered listener.
type registration struct {
	id       uint64
	listener Listener
	matcher  *pattern.Matcher
	debounce time.Duration
	state    atomic.Int32

	mu   sync.Mutex
	dirs map[string]struct{}
}

func (r *registration) currentState() listenerState {
	return listenerState(r.state.Load())
}

func (r *registration) setState(s listenerState) {
	r.state.Store(int32(s))
}

func (r *registration) isActive() bool {
	return r.currentState() == stateActive
}

func (r *registration) addDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[dir] = struct{}{}
}

func (r *registration) removeDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirs, dir)
}

func (r *registration) hasDir(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dirs[dir]
	return ok
}

func (r *registration) watchedDirs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirs := make([]string, 0, len(r.dirs))
	for dir := range r.dirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// watchedDirectory is one registry row: a single platform watcher shared by
// every listener interested in the directory.
type watchedDirectory struct {
	path      string
	watcher   platformWatcher
	refs      int
	listeners map[uint64]*registration
}

// registry maps directory path to its shared watch. All mutations happen
// under one mutex because registration and unregistration arrive from
// arbitrary caller goroutines.
type registry struct {
	mu   sync.Mutex
	rows map[string]*watchedDirectory

	maxWatches   int
	backend      config.Backend
	out          chan<- RawEvent
	logger       *logging.Logger
	pollInterval time.Duration
	scanBatch    int
	fallbacks    *atomic.Uint64
}

func newRegistry(backend config.Backend, cfg config.MonitorConfig, out chan<- RawEvent, logger *logging.Logger, fallbacks *atomic.Uint64) *registry {
	return &registry{
		rows:         make(map[string]*watchedDirectory),
		maxWatches:   cfg.MaxWatches,
		backend:      backend,
		out:          out,
		logger:       logger,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		scanBatch:    cfg.DirectoryScanBatchSize,
		fallbacks:    fallbacks,
	}
}

// acquire adds reg's interest in dir, creating the platform watcher only if
// dir has no row yet. At most one watch ever exists per physical directory.
func (g *registry) acquire(dir string, reg *registration) error {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, ErrNotADirectory)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if row, ok := g.rows[dir]; ok {
		if _, dup := row.listeners[reg.id]; !dup {
			row.refs++
			row.listeners[reg.id] = reg
			reg.addDir(dir)
		}
		return nil
	}

	if len(g.rows) >= g.maxWatches {
		return fmt.Errorf("%s: %w", dir, ErrWatchLimitExceeded)
	}

	watcher, err := g.startWatcher(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	g.rows[dir] = &watchedDirectory{
		path:      dir,
		watcher:   watcher,
		refs:      1,
		listeners: map[uint64]*registration{reg.id: reg},
	}
	reg.addDir(dir)
	g.logDebug("watch added", dir, string(watcher.backend()), len(g.rows))
	return nil
}

// startWatcher creates and starts a backend for dir, degrading from
// fsnotify to polling when native watch creation fails for this directory.
func (g *registry) startWatcher(dir string) (platformWatcher, error) {
	opts := platformOptions{
		dir:          dir,
		out:          g.out,
		logger:       g.logger,
		pollInterval: g.pollInterval,
		scanBatch:    g.scanBatch,
		onFailure:    g.failover,
	}
	watcher := newPlatformWatcher(g.backend, opts)
	err := watcher.start()
	if err == nil {
		return watcher, nil
	}
	if watcher.backend() == config.BackendPoll {
		return nil, err
	}

	if g.logger != nil {
		g.logger.Warn("native watch failed, falling back to polling", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
	}
	fallback := newPollWatcher(opts)
	if err := fallback.start(); err != nil {
		return nil, err
	}
	if g.fallbacks != nil {
		g.fallbacks.Add(1)
	}
	return fallback, nil
}

// release drops reg's interest in dir; the watch is stopped when the last
// listener leaves.
func (g *registry) release(dir string, reg *registration) {
	dir = filepath.Clean(dir)

	g.mu.Lock()
	row, ok := g.rows[dir]
	if ok {
		if _, had := row.listeners[reg.id]; had {
			delete(row.listeners, reg.id)
			row.refs--
		}
		if row.refs > 0 {
			row = nil
		} else {
			delete(g.rows, dir)
		}
	}
	remaining := len(g.rows)
	g.mu.Unlock()

	reg.removeDir(dir)
	if row != nil {
		row.watcher.stop()
		g.logDebug("watch removed", dir, string(row.watcher.backend()), remaining)
	}
}

func (g *registry) releaseAll(reg *registration) {
	for _, dir := range reg.watchedDirs() {
		g.release(dir, reg)
	}
}

// dropDirectory removes a row whose directory disappeared out from under
// its watch.
func (g *registry) dropDirectory(dir string) {
	dir = filepath.Clean(dir)

	g.mu.Lock()
	row, ok := g.rows[dir]
	if ok {
		delete(g.rows, dir)
	}
	remaining := len(g.rows)
	g.mu.Unlock()

	if !ok {
		return
	}
	row.watcher.stop()
	for _, reg := range row.listeners {
		reg.removeDir(dir)
	}
	g.logDebug("watch dropped", dir, string(row.watcher.backend()), remaining)
}

// failover swaps a permanently failed native watch for a polling one,
// for this directory only.
func (g *registry) failover(dir string, cause error) {
	g.mu.Lock()
	row, ok := g.rows[dir]
	if !ok || row.watcher.backend() == config.BackendPoll {
		g.mu.Unlock()
		return
	}
	failed := row.watcher

	replacement := newPollWatcher(platformOptions{
		dir:          dir,
		out:          g.out,
		logger:       g.logger,
		pollInterval: g.pollInterval,
		scanBatch:    g.scanBatch,
	})
	if err := replacement.start(); err != nil {
		delete(g.rows, dir)
		g.mu.Unlock()
		failed.stop()
		if g.logger != nil {
			g.logger.Error("watch lost, polling fallback failed", map[string]string{
				"path":  dir,
				"cause": cause.Error(),
				"error": err.Error(),
			})
		}
		return
	}
	row.watcher = replacement
	g.mu.Unlock()

	failed.stop()
	if g.fallbacks != nil {
		g.fallbacks.Add(1)
	}
	if g.logger != nil {
		g.logger.Warn("native watch failed permanently, now polling", map[string]string{
			"path":  dir,
			"cause": cause.Error(),
		})
	}
}

// listenersFor snapshots the registrations interested in dir.
func (g *registry) listenersFor(dir string) []*registration {
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[filepath.Clean(dir)]
	if !ok {
		return nil
	}
	regs := make([]*registration, 0, len(row.listeners))
	for _, reg := range row.listeners {
		regs = append(regs, reg)
	}
	return regs
}

func (g *registry) activeWatchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rows)
}

// refCount reports the reference count for dir, or 0 when unwatched.
func (g *registry) refCount(dir string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[filepath.Clean(dir)]
	if !ok {
		return 0
	}
	return row.refs
}

func (g *registry) stopAll() {
	g.mu.Lock()
	rows := make([]*watchedDirectory, 0, len(g.rows))
	for dir, row := range g.rows {
		rows = append(rows, row)
		delete(g.rows, dir)
	}
	g.mu.Unlock()

	for _, row := range rows {
		row.watcher.stop()
	}
}

func (g *registry) logDebug(message, dir, backend string, active int) {
	if g.logger == nil {
		return
	}
	g.logger.Debug(message, map[string]string{
		"path":           dir,
		"backend":        backend,
		"active_watches": strconv.Itoa(active),
	})
}

func isWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
