package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

type entryInfo struct {
	isDir     bool
	isSymlink bool
}

// fsnotifyWatcher is the native backend: one fsnotify watcher per physical
// directory, normalized to RawEvents. It keeps a snapshot of entry kinds so
// delete events can still report whether the entry was a directory or a
// symlink.
type fsnotifyWatcher struct {
	dir       string
	out       chan<- RawEvent
	logger    *logging.Logger
	onFailure func(dir string, err error)

	fs       *fsnotify.Watcher
	loopDone chan struct{}
	done     chan struct{}
	once     sync.Once
	entries  map[string]entryInfo

	restartMu       sync.Mutex
	restartAttempts int
	restartTimer    *time.Timer
	stopped         bool
}

func newFsnotifyWatcher(opts platformOptions) *fsnotifyWatcher {
	return &fsnotifyWatcher{
		dir:       opts.dir,
		out:       opts.out,
		logger:    opts.logger,
		onFailure: opts.onFailure,
		done:      make(chan struct{}),
		entries:   make(map[string]entryInfo),
	}
}

func (w *fsnotifyWatcher) backend() config.Backend {
	return config.BackendFsnotify
}

func (w *fsnotifyWatcher) start() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(w.dir); err != nil {
		_ = fs.Close()
		return err
	}
	w.seedEntries()
	w.restartMu.Lock()
	w.fs = fs
	w.loopDone = make(chan struct{})
	loopDone := w.loopDone
	w.restartMu.Unlock()
	go w.run(fs, loopDone)
	return nil
}

func (w *fsnotifyWatcher) stop() {
	w.once.Do(func() {
		w.restartMu.Lock()
		w.stopped = true
		if w.restartTimer != nil {
			w.restartTimer.Stop()
			w.restartTimer = nil
		}
		fs := w.fs
		w.restartMu.Unlock()

		close(w.done)
		if fs != nil {
			_ = fs.Close()
		}
	})
}

// seedEntries records the kind of each existing entry so later deletes can
// be classified.
func (w *fsnotifyWatcher) seedEntries() {
	dirents, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, dirent := range dirents {
		w.entries[dirent.Name()] = entryInfo{
			isDir:     dirent.IsDir(),
			isSymlink: dirent.Type()&os.ModeSymlink != 0,
		}
	}
}

func (w *fsnotifyWatcher) run(fs *fsnotify.Watcher, loopDone chan struct{}) {
	defer close(loopDone)
	for {
		select {
		case event, ok := <-fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fs.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		case <-w.done:
			return
		}
	}
}

func (w *fsnotifyWatcher) handle(event fsnotify.Event) {
	now := time.Now().UTC()
	name := filepath.Base(event.Name)

	switch {
	case event.Op.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			// Created and gone before we could stat it.
			return
		}
		kind := entryInfo{
			isDir:     info.IsDir(),
			isSymlink: info.Mode()&os.ModeSymlink != 0,
		}
		w.entries[name] = kind
		w.emit(RawEvent{
			Dir:       w.dir,
			Path:      event.Name,
			Kind:      RawCreated,
			IsDir:     kind.isDir,
			IsSymlink: kind.isSymlink,
			Timestamp: now,
		})

	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		if filepath.Clean(event.Name) == w.dir {
			w.emit(RawEvent{Dir: w.dir, Path: w.dir, Kind: RawDeleted, IsDir: true, Timestamp: now})
			return
		}
		kind := w.entries[name]
		delete(w.entries, name)
		w.emit(RawEvent{
			Dir:       w.dir,
			Path:      event.Name,
			Kind:      RawDeleted,
			IsDir:     kind.isDir,
			IsSymlink: kind.isSymlink,
			Timestamp: now,
		})

	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Chmod):
		kind, known := w.entries[name]
		if !known {
			if info, err := os.Lstat(event.Name); err == nil {
				kind = entryInfo{
					isDir:     info.IsDir(),
					isSymlink: info.Mode()&os.ModeSymlink != 0,
				}
				w.entries[name] = kind
			}
		}
		w.emit(RawEvent{
			Dir:       w.dir,
			Path:      event.Name,
			Kind:      RawModified,
			IsDir:     kind.isDir,
			IsSymlink: kind.isSymlink,
			Timestamp: now,
		})
	}
}

func (w *fsnotifyWatcher) emit(event RawEvent) {
	select {
	case w.out <- event:
	case <-w.done:
	}
}

func (w *fsnotifyWatcher) handleError(err error) {
	if err == nil {
		return
	}
	if w.logger != nil {
		w.logger.Warn("native watch error", map[string]string{
			"path":  w.dir,
			"error": err.Error(),
		})
	}
	w.scheduleRestart(err)
}

// scheduleRestart re-creates the underlying watcher with exponential
// backoff. After the attempts are exhausted, the failure callback lets the
// registry fall back to polling for this directory only.
func (w *fsnotifyWatcher) scheduleRestart(err error) {
	w.restartMu.Lock()
	if w.stopped || w.restartTimer != nil {
		w.restartMu.Unlock()
		return
	}
	if w.restartAttempts >= maxRestartAttempts {
		w.restartMu.Unlock()
		if w.onFailure != nil {
			w.onFailure(w.dir, err)
		}
		return
	}
	delay := restartBaseDelay * time.Duration(1<<w.restartAttempts)
	w.restartAttempts++
	w.restartTimer = time.AfterFunc(delay, w.performRestart)
	w.restartMu.Unlock()
}

func (w *fsnotifyWatcher) performRestart() {
	replacement, err := fsnotify.NewWatcher()
	if err == nil {
		err = replacement.Add(w.dir)
		if err != nil {
			_ = replacement.Close()
		}
	}

	w.restartMu.Lock()
	w.restartTimer = nil
	if w.stopped {
		w.restartMu.Unlock()
		if err == nil {
			_ = replacement.Close()
		}
		return
	}
	if err == nil {
		previous := w.fs
		previousDone := w.loopDone
		loopDone := make(chan struct{})
		w.fs = replacement
		w.loopDone = loopDone
		w.restartAttempts = 0
		w.restartMu.Unlock()

		// The entries map is only touched from the run loop, so the old
		// loop must be fully drained before the replacement's starts.
		if previous != nil {
			_ = previous.Close()
		}
		if previousDone != nil {
			<-previousDone
		}
		go w.run(replacement, loopDone)
		return
	}
	w.restartMu.Unlock()

	if w.logger != nil {
		w.logger.Warn("native watch restart failed", map[string]string{
			"path":  w.dir,
			"error": err.Error(),
		})
	}
	w.scheduleRestart(err)
}
