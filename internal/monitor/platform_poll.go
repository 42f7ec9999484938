package monitor

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
)

const defaultPollInterval = 500 * time.Millisecond

type pollEntry struct {
	modTime   time.Time
	size      int64
	isDir     bool
	isSymlink bool
}

// pollWatcher is the universal fallback backend: it snapshots the directory
// on an interval (listing in batches of scanBatch entries) and diffs against
// the previous snapshot to synthesize create/modify/delete events.
type pollWatcher struct {
	dir      string
	out      chan<- RawEvent
	logger   *logging.Logger
	interval time.Duration
	batch    int

	done chan struct{}
	once sync.Once
	prev map[string]pollEntry
	gone bool
}

func newPollWatcher(opts platformOptions) *pollWatcher {
	interval := opts.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batch := opts.scanBatch
	if batch <= 0 {
		batch = 1000
	}
	return &pollWatcher{
		dir:      opts.dir,
		out:      opts.out,
		logger:   opts.logger,
		interval: interval,
		batch:    batch,
		done:     make(chan struct{}),
	}
}

func (w *pollWatcher) backend() config.Backend {
	return config.BackendPoll
}

func (w *pollWatcher) start() error {
	snapshot, err := w.snapshot()
	if err != nil {
		return err
	}
	w.prev = snapshot
	go w.loop()
	return nil
}

func (w *pollWatcher) stop() {
	w.once.Do(func() {
		close(w.done)
	})
}

func (w *pollWatcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.done:
			return
		}
	}
}

func (w *pollWatcher) poll() {
	if w.gone {
		return
	}
	now := time.Now().UTC()
	current, err := w.snapshot()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.gone = true
			w.emit(RawEvent{Dir: w.dir, Path: w.dir, Kind: RawDeleted, IsDir: true, Timestamp: now})
			return
		}
		if w.logger != nil {
			w.logger.Warn("poll scan failed", map[string]string{
				"path":  w.dir,
				"error": err.Error(),
			})
		}
		return
	}

	for name, was := range w.prev {
		is, exists := current[name]
		path := filepath.Join(w.dir, name)
		if !exists {
			w.emit(RawEvent{
				Dir: w.dir, Path: path, Kind: RawDeleted,
				IsDir: was.isDir, IsSymlink: was.isSymlink, Timestamp: now,
			})
			continue
		}
		if !is.modTime.Equal(was.modTime) || is.size != was.size {
			w.emit(RawEvent{
				Dir: w.dir, Path: path, Kind: RawModified,
				IsDir: is.isDir, IsSymlink: is.isSymlink, Timestamp: now,
			})
		}
	}
	for name, is := range current {
		if _, existed := w.prev[name]; existed {
			continue
		}
		w.emit(RawEvent{
			Dir: w.dir, Path: filepath.Join(w.dir, name), Kind: RawCreated,
			IsDir: is.isDir, IsSymlink: is.isSymlink, Timestamp: now,
		})
	}

	w.prev = current
}

// snapshot lists the directory in batches so one huge directory never holds
// a single ReadDir allocation for its full entry count.
func (w *pollWatcher) snapshot() (map[string]pollEntry, error) {
	handle, err := os.Open(w.dir)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	entries := make(map[string]pollEntry)
	for {
		dirents, err := handle.ReadDir(w.batch)
		for _, dirent := range dirents {
			info, infoErr := dirent.Info()
			if infoErr != nil {
				continue
			}
			entries[dirent.Name()] = pollEntry{
				modTime:   info.ModTime(),
				size:      info.Size(),
				isDir:     dirent.IsDir(),
				isSymlink: dirent.Type()&os.ModeSymlink != 0,
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (w *pollWatcher) emit(event RawEvent) {
	select {
	case w.out <- event:
	case <-w.done:
	}
}
