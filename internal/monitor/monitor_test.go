package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
)

func newTestMonitor(t *testing.T, root string, mutate func(*config.MonitorConfig)) *Monitor {
	t.Helper()
	cfg := config.Default().Monitor
	cfg.DefaultDebounceMS = 20
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(Options{
		Config: cfg,
		Root:   root,
		Logger: logging.NewLoggerWithOutput(nil, logging.LevelError, nil),
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitForPath(t *testing.T, paths <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-paths:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestRegisterListenerRejectsInvalidPattern(t *testing.T) {
	m := newTestMonitor(t, t.TempDir(), nil)

	_, err := m.RegisterListener(&FuncListener{Glob: "src/[oops"})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestRegisterListenerRejectsWhenDisabled(t *testing.T) {
	m := newTestMonitor(t, t.TempDir(), func(cfg *config.MonitorConfig) {
		cfg.Enabled = false
	})

	_, err := m.RegisterListener(&FuncListener{Glob: "*.txt"})
	if !errors.Is(err, ErrMonitorDisabled) {
		t.Fatalf("expected ErrMonitorDisabled, got %v", err)
	}
}

func TestRegisterListenerEnforcesWatchLimit(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.MaxWatches = 1
	})

	if _, err := m.RegisterListener(&FuncListener{Glob: "a/*.txt"}); err != nil {
		t.Fatalf("register first listener: %v", err)
	}
	_, err := m.RegisterListener(&FuncListener{Glob: "b/*.txt"})
	if !errors.Is(err, ErrWatchLimitExceeded) {
		t.Fatalf("expected ErrWatchLimitExceeded, got %v", err)
	}
}

func TestRegisterListenerRejectsDuplicate(t *testing.T) {
	m := newTestMonitor(t, t.TempDir(), nil)

	listener := &FuncListener{Glob: "*.txt"}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}
	if _, err := m.RegisterListener(listener); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestBootstrapScanReportsPreexistingFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.md", "b.md", "c.md", "skip.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	m := newTestMonitor(t, root, nil)

	created := make(chan string, 8)
	listener := &FuncListener{
		Glob:        "*.md",
		FileCreated: func(path string) { created <- path },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	// Bootstrap delivery is synchronous: all three arrive before Register
	// returns.
	if got := len(created); got != 3 {
		t.Fatalf("expected 3 bootstrap created callbacks, got %d", got)
	}
}

func TestWatchHandleLifecycle(t *testing.T) {
	root := t.TempDir()
	m := newTestMonitor(t, root, nil)

	handle, err := m.RegisterListener(&FuncListener{Glob: "*.txt"})
	if err != nil {
		t.Fatalf("register listener: %v", err)
	}
	if !handle.IsActive() {
		t.Fatal("expected handle to be active after registration")
	}
	paths := handle.ListWatchedPaths()
	if len(paths) != 1 || paths[0] != root {
		t.Fatalf("expected watched paths [%s], got %v", root, paths)
	}

	handle.Unregister()
	if handle.IsActive() {
		t.Fatal("expected handle to be inactive after unregister")
	}
	if count := m.registry.activeWatchCount(); count != 0 {
		t.Fatalf("expected 0 active watches, got %d", count)
	}

	// Idempotent.
	handle.Unregister()
}

func TestUnregisterListenerIsIdempotent(t *testing.T) {
	m := newTestMonitor(t, t.TempDir(), nil)

	listener := &FuncListener{Glob: "*.txt"}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}
	m.UnregisterListener(listener)
	m.UnregisterListener(listener)
	m.UnregisterListener(&FuncListener{Glob: "never registered"})
}

func TestFileModifyDispatchesDebouncedCallback(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	if err := os.WriteFile(path, []byte("v0"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	m := newTestMonitor(t, root, nil)

	modified := make(chan string, 4)
	listener := &FuncListener{
		Glob:         "*.md",
		FileModified: func(p string) { modified <- p },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatalf("modify file: %v", err)
	}
	waitForPath(t, modified, path)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.DefaultDebounceMS = 150
	})

	modified := make(chan string, 16)
	listener := &FuncListener{
		Glob:         "*.md",
		FileModified: func(p string) { modified <- p },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	// Synthesize a burst of raw modify events well inside one debounce
	// window.
	for i := 0; i < 5; i++ {
		m.events <- RawEvent{Dir: root, Path: path, Kind: RawModified, Timestamp: time.Now()}
	}

	waitForPath(t, modified, path)
	select {
	case extra := <-modified:
		t.Fatalf("expected a single coalesced callback, got another for %q", extra)
	case <-time.After(400 * time.Millisecond):
	}
	if coalesced := m.Metrics().EventsCoalesced; coalesced != 4 {
		t.Fatalf("expected 4 coalesced events, got %d", coalesced)
	}
}

func TestUnregisterDropsPendingDebouncedEvent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.DefaultDebounceMS = 200
	})

	modified := make(chan string, 4)
	listener := &FuncListener{
		Glob:         "*.md",
		FileModified: func(p string) { modified <- p },
	}
	handle, err := m.RegisterListener(listener)
	if err != nil {
		t.Fatalf("register listener: %v", err)
	}

	m.events <- RawEvent{Dir: root, Path: path, Kind: RawModified, Timestamp: time.Now()}
	// Give the dispatcher time to queue the pending event, then pull the
	// listener before the timer fires.
	time.Sleep(50 * time.Millisecond)
	handle.Unregister()

	select {
	case got := <-modified:
		t.Fatalf("expected pending event to be dropped, got callback for %q", got)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	m := newTestMonitor(t, root, nil)

	second := make(chan string, 4)
	panicky := &FuncListener{
		Glob:         "*.md",
		FileModified: func(string) { panic("listener bug") },
	}
	calm := &FuncListener{
		Glob:         "*.md",
		FileModified: func(p string) { second <- p },
	}
	if _, err := m.RegisterListener(panicky); err != nil {
		t.Fatalf("register panicky listener: %v", err)
	}
	if _, err := m.RegisterListener(calm); err != nil {
		t.Fatalf("register calm listener: %v", err)
	}

	m.events <- RawEvent{Dir: root, Path: path, Kind: RawModified, Timestamp: time.Now()}

	waitForPath(t, second, path)
	deadline := time.After(2 * time.Second)
	for m.Metrics().CallbackPanics == 0 {
		select {
		case <-deadline:
			t.Fatal("expected callback panic to be counted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestListenerFilterRejectsPaths(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.md")
	skip := filepath.Join(root, "skip.md")
	m := newTestMonitor(t, root, nil)

	modified := make(chan string, 4)
	listener := &FuncListener{
		Glob:         "*.md",
		FilterFunc:   func(path string) bool { return filepath.Base(path) != "skip.md" },
		FileModified: func(p string) { modified <- p },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	m.events <- RawEvent{Dir: root, Path: skip, Kind: RawModified, Timestamp: time.Now()}
	m.events <- RawEvent{Dir: root, Path: keep, Kind: RawModified, Timestamp: time.Now()}

	waitForPath(t, modified, keep)
	select {
	case got := <-modified:
		t.Fatalf("expected filtered path to be rejected, got %q", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCloseRejectsFurtherRegistration(t *testing.T) {
	m := newTestMonitor(t, t.TempDir(), nil)
	m.Close()

	if _, err := m.RegisterListener(&FuncListener{Glob: "*.txt"}); !errors.Is(err, ErrMonitorClosed) {
		t.Fatalf("expected ErrMonitorClosed, got %v", err)
	}
}
