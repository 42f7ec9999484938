package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fsmonitor/internal/config"
)

func TestSymlinkTargetChangeDelivered(t *testing.T) {
	root := t.TempDir()
	targetA := filepath.Join(root, "a.txt")
	targetB := filepath.Join(root, "b.txt")
	for _, target := range []string{targetA, targetB} {
		if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
			t.Fatalf("write target: %v", err)
		}
	}
	link := filepath.Join(root, "current")

	// A slow poll backend keeps the platform watcher quiet so the
	// synthesized events below are the only ones in flight.
	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.Backend = config.BackendPoll
		cfg.PollIntervalMS = 10000
	})

	type retarget struct{ path, oldTarget, newTarget string }
	changes := make(chan retarget, 1)
	created := make(chan string, 1)
	listener := &FuncListener{
		Glob:        "current",
		Debounce:    -1,
		LinkCreated: func(path string) { created <- path },
		LinkTargetMoved: func(path, oldTarget, newTarget string) {
			changes <- retarget{path, oldTarget, newTarget}
		},
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	if err := os.Symlink(targetA, link); err != nil {
		t.Fatalf("create symlink: %v", err)
	}
	m.events <- RawEvent{Dir: root, Path: link, Kind: RawCreated, IsSymlink: true, Timestamp: time.Now()}
	waitForPath(t, created, link)

	// A modify whose target did not move produces no callback.
	m.events <- RawEvent{Dir: root, Path: link, Kind: RawModified, IsSymlink: true, Timestamp: time.Now()}

	if err := os.Remove(link); err != nil {
		t.Fatalf("remove symlink: %v", err)
	}
	if err := os.Symlink(targetB, link); err != nil {
		t.Fatalf("retarget symlink: %v", err)
	}
	m.events <- RawEvent{Dir: root, Path: link, Kind: RawModified, IsSymlink: true, Timestamp: time.Now()}

	select {
	case change := <-changes:
		if change.path != link || change.oldTarget != targetA || change.newTarget != targetB {
			t.Fatalf("unexpected change %+v", change)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for target change")
	}
	select {
	case change := <-changes:
		t.Fatalf("unexpected extra change %+v", change)
	default:
	}
}

func TestSymlinkModifyIgnoredWhenFollowDisabled(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.txt")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	link := filepath.Join(root, "current")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("create symlink: %v", err)
	}

	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.FollowSymlinks = false
		cfg.Backend = config.BackendPoll
		cfg.PollIntervalMS = 10000
	})

	fired := make(chan string, 1)
	listener := &FuncListener{
		Glob:            "current",
		Debounce:        -1,
		LinkTargetMoved: func(path, _, _ string) { fired <- path },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	m.events <- RawEvent{Dir: root, Path: link, Kind: RawModified, IsSymlink: true, Timestamp: time.Now()}

	select {
	case path := <-fired:
		t.Fatalf("unexpected delivery for %q", path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDirectoryModifyProducesNoDelivery(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.Backend = config.BackendPoll
		cfg.PollIntervalMS = 10000
	})

	fired := make(chan string, 1)
	listener := &FuncListener{
		Glob:         "sub",
		Debounce:     -1,
		FileModified: func(path string) { fired <- path },
		DirDeleted:   func(path string) { fired <- path },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	m.events <- RawEvent{Dir: root, Path: sub, Kind: RawModified, IsDir: true, Timestamp: time.Now()}

	select {
	case path := <-fired:
		t.Fatalf("unexpected delivery for %q", path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRecursivePatternWatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.Backend = config.BackendPoll
		cfg.PollIntervalMS = 100
	})

	created := make(chan string, 8)
	listener := &FuncListener{
		Glob:        "**/*.log",
		Debounce:    -1,
		FileCreated: func(path string) { created <- path },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}

	sub := filepath.Join(root, "jobs")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	logPath := filepath.Join(sub, "run.log")
	if err := os.WriteFile(logPath, []byte("line"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}

	waitForPath(t, created, logPath)

	deadline := time.Now().Add(3 * time.Second)
	for m.registry.activeWatchCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected watch on %q, active=%d", sub, m.registry.activeWatchCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchedDirectoryRemovalReleasesWatch(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "cache")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := newTestMonitor(t, root, func(cfg *config.MonitorConfig) {
		cfg.Backend = config.BackendPoll
		cfg.PollIntervalMS = 100
	})

	deleted := make(chan string, 1)
	listener := &FuncListener{
		Glob:       "cache/*.tmp",
		Debounce:   -1,
		DirDeleted: func(path string) { deleted <- path },
	}
	if _, err := m.RegisterListener(listener); err != nil {
		t.Fatalf("register listener: %v", err)
	}
	if got := m.registry.activeWatchCount(); got != 1 {
		t.Fatalf("expected 1 active watch, got %d", got)
	}

	if err := os.Remove(sub); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for m.registry.activeWatchCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("watch on %q never released, active=%d", sub, m.registry.activeWatchCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
