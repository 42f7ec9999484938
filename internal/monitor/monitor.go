package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/event"
	"fsmonitor/internal/logging"
	"fsmonitor/internal/pattern"
)

const rawEventBuffer = 256

// Options configures a Monitor. Root is the directory relative patterns
// resolve against (default: working directory).
type Options struct {
	Config config.MonitorConfig
	Root   string
	Logger *logging.Logger
}

// Monitor is the file system monitor. One dispatcher goroutine drains the
// shared raw-event channel fed by every platform watcher; registration and
// unregistration are safe from any goroutine.
type Monitor struct {
	cfg      config.MonitorConfig
	root     string
	logger   *logging.Logger
	backend  config.Backend
	disabled bool

	events    chan RawEvent
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	registry *registry
	resolver *symlinkResolver
	debounce *debouncer
	bus      *event.Bus[Event]

	mu     sync.Mutex
	nextID uint64
	regs   map[Listener]*registration
	byID   map[uint64]*registration

	eventsDelivered atomic.Uint64
	eventsCoalesced atomic.Uint64
	callbackPanics  atomic.Uint64
	pollFallbacks   atomic.Uint64
}

// New builds a Monitor from validated configuration and starts its
// dispatcher. A disabled configuration yields a monitor whose
// RegisterListener fails with ErrMonitorDisabled.
func New(opts Options) (*Monitor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	logger = logger.With(map[string]string{"fsmonitor.category": "monitor"})

	cfg := normalizeConfig(opts.Config)
	if !cfg.Enabled {
		return &Monitor{cfg: cfg, logger: logger, disabled: true}, nil
	}

	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	backend := probeBackend(cfg.Backend, logger)
	applyThreadPriority(cfg.ThreadPriority, logger)

	m := &Monitor{
		cfg:      cfg,
		root:     absRoot,
		logger:   logger,
		backend:  backend,
		events:   make(chan RawEvent, rawEventBuffer),
		done:     make(chan struct{}),
		resolver: newSymlinkResolver(cfg.SymlinkMaxDepth),
		debounce: newDebouncer(),
		bus:      event.NewBus[Event](context.Background(), event.BusOptions{Name: "monitor_events"}),
		regs:     make(map[Listener]*registration),
		byID:     make(map[uint64]*registration),
	}
	m.registry = newRegistry(backend, cfg, m.events, logger, &m.pollFallbacks)

	go m.run()
	logger.Info("monitor started", map[string]string{
		"backend":     string(backend),
		"root":        absRoot,
		"max_watches": strconv.Itoa(cfg.MaxWatches),
	})
	return m, nil
}

func normalizeConfig(cfg config.MonitorConfig) config.MonitorConfig {
	defaults := config.Default().Monitor
	if cfg.MaxWatches <= 0 {
		cfg.MaxWatches = defaults.MaxWatches
	}
	if cfg.SymlinkMaxDepth <= 0 {
		cfg.SymlinkMaxDepth = defaults.SymlinkMaxDepth
	}
	if cfg.DirectoryScanBatchSize <= 0 {
		cfg.DirectoryScanBatchSize = defaults.DirectoryScanBatchSize
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = defaults.PollIntervalMS
	}
	if cfg.Backend == "" {
		cfg.Backend = config.BackendAuto
	}
	return cfg
}

// Backend reports the backend selected at startup.
func (m *Monitor) Backend() config.Backend {
	return m.backend
}

// Root is the directory relative patterns resolve against.
func (m *Monitor) Root() string {
	return m.root
}

// Bus exposes the logical event stream for in-process observers, such as
// the monitoring API.
func (m *Monitor) Bus() *event.Bus[Event] {
	return m.bus
}

// RegisterListener compiles the listener's pattern, acquires the minimal
// directory set, reports pre-existing matches as created events
// (synchronously, before returning), and activates dispatch. It fails with
// ErrInvalidPattern, ErrWatchLimitExceeded, or a wrapped path error.
func (m *Monitor) RegisterListener(listener Listener) (*WatchHandle, error) {
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	if m.disabled {
		return nil, ErrMonitorDisabled
	}
	if m.closed.Load() {
		return nil, ErrMonitorClosed
	}

	matcher, err := pattern.Compile(listener.Pattern(), m.root)
	if err != nil {
		return nil, err
	}

	// Zero inherits the configured default; a negative delay requests
	// inline delivery (no timer, strict arrival order).
	debounce := listener.DebounceDelay()
	switch {
	case debounce < 0:
		debounce = 0
	case debounce == 0:
		debounce = time.Duration(m.cfg.DefaultDebounceMS) * time.Millisecond
	}

	m.mu.Lock()
	if _, dup := m.regs[listener]; dup {
		m.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	m.nextID++
	reg := &registration{
		id:       m.nextID,
		listener: listener,
		matcher:  matcher,
		debounce: debounce,
		dirs:     make(map[string]struct{}),
	}
	reg.setState(stateRegistering)
	m.regs[listener] = reg
	m.byID[reg.id] = reg
	m.mu.Unlock()

	if err := m.acquireWatchDirs(reg); err != nil {
		m.teardown(reg)
		return nil, err
	}

	for _, dir := range reg.watchedDirs() {
		m.bootstrapScan(reg, dir)
	}

	reg.setState(stateActive)
	m.logger.Info("listener registered", map[string]string{
		"listener": strconv.FormatUint(reg.id, 10),
		"pattern":  listener.Pattern(),
		"dirs":     strconv.Itoa(len(reg.watchedDirs())),
	})
	return &WatchHandle{monitor: m, reg: reg}, nil
}

// acquireWatchDirs expands the matcher's minimal directory set (recursive
// roots include every existing subdirectory) and acquires each one.
func (m *Monitor) acquireWatchDirs(reg *registration) error {
	for _, watchDir := range reg.matcher.MinimalDirs() {
		dirs := []string{watchDir.Path}
		if watchDir.Recursive {
			subdirs, err := collectSubdirs(watchDir.Path)
			if err != nil {
				return fmt.Errorf("walk %s: %w", watchDir.Path, err)
			}
			dirs = append(dirs, subdirs...)
		}
		for _, dir := range dirs {
			if err := m.registry.acquire(dir, reg); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnregisterListener removes the listener and drops any pending debounced
// events for it. It is idempotent: unknown or already-removed listeners are
// a no-op.
func (m *Monitor) UnregisterListener(listener Listener) {
	if m == nil || listener == nil {
		return
	}
	m.mu.Lock()
	reg, ok := m.regs[listener]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.unregister(reg)
}

func (m *Monitor) unregister(reg *registration) {
	for {
		current := reg.currentState()
		if current == stateUnregistering || current == stateRemoved {
			return
		}
		if reg.state.CompareAndSwap(int32(current), int32(stateUnregistering)) {
			break
		}
	}

	m.debounce.cancelListener(reg.id)
	m.registry.releaseAll(reg)

	m.mu.Lock()
	delete(m.regs, reg.listener)
	delete(m.byID, reg.id)
	m.mu.Unlock()

	reg.setState(stateRemoved)
	m.logger.Info("listener unregistered", map[string]string{
		"listener": strconv.FormatUint(reg.id, 10),
		"pattern":  reg.listener.Pattern(),
	})
}

// teardown rolls back a registration that failed part-way.
func (m *Monitor) teardown(reg *registration) {
	m.debounce.cancelListener(reg.id)
	m.registry.releaseAll(reg)

	m.mu.Lock()
	delete(m.regs, reg.listener)
	delete(m.byID, reg.id)
	m.mu.Unlock()

	reg.setState(stateRemoved)
}

// Close unregisters every listener, stops all watches, and terminates the
// dispatcher. A closed monitor rejects further registrations.
func (m *Monitor) Close() {
	if m == nil || m.disabled {
		return
	}
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		m.mu.Lock()
		regs := make([]*registration, 0, len(m.regs))
		for _, reg := range m.regs {
			regs = append(regs, reg)
		}
		m.mu.Unlock()

		for _, reg := range regs {
			m.unregister(reg)
		}

		close(m.done)
		m.debounce.stop()
		m.registry.stopAll()
		m.bus.Close()
		m.logger.Info("monitor stopped", nil)
	})
}

// Metrics returns a snapshot of monitor counters.
func (m *Monitor) Metrics() Metrics {
	if m == nil || m.disabled {
		return Metrics{}
	}
	return Metrics{
		ActiveWatches:   m.registry.activeWatchCount(),
		EventsDelivered: m.eventsDelivered.Load(),
		EventsCoalesced: m.eventsCoalesced.Load(),
		CallbackPanics:  m.callbackPanics.Load(),
		PollFallbacks:   m.pollFallbacks.Load(),
	}
}

// bootstrapScan reports dir's pre-existing matching entries as created
// events to reg alone, synchronously. Native watches only report changes,
// so nothing duplicates these.
func (m *Monitor) bootstrapScan(reg *registration, dir string) {
	handle, err := os.Open(dir)
	if err != nil {
		m.logger.Warn("bootstrap scan failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return
	}
	defer handle.Close()

	for {
		dirents, readErr := handle.ReadDir(m.cfg.DirectoryScanBatchSize)
		for _, dirent := range dirents {
			path := filepath.Join(dir, dirent.Name())
			if !reg.matcher.Match(path) || !m.safeFilter(reg, path) {
				continue
			}
			eventType := FileCreated
			switch {
			case dirent.Type()&os.ModeSymlink != 0:
				eventType = SymlinkCreated
				if m.cfg.FollowSymlinks {
					if err := m.resolver.record(path); err != nil && errors.Is(err, ErrCircularSymlink) {
						m.logger.Warn("circular symlink excluded", map[string]string{"path": path})
					}
				}
			case dirent.IsDir():
				eventType = DirectoryCreated
			}
			m.deliver(reg, Event{Type: eventType, Path: path, Timestamp: time.Now().UTC()})
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				m.logger.Warn("bootstrap scan failed", map[string]string{
					"path":  dir,
					"error": readErr.Error(),
				})
			}
			return
		}
	}
}

// safeFilter applies the listener filter, treating a panic as a rejection
// so one listener cannot take down the dispatcher.
func (m *Monitor) safeFilter(reg *registration, path string) (accepted bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.callbackPanics.Add(1)
			m.logger.Error("listener filter panicked", map[string]string{
				"listener": strconv.FormatUint(reg.id, 10),
				"path":     path,
				"panic":    fmt.Sprint(recovered),
			})
			accepted = false
		}
	}()
	return reg.listener.Filter(path)
}

// collectSubdirs walks root and returns every directory strictly below it.
// Unreadable subtrees are skipped rather than failing the walk.
func collectSubdirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}
