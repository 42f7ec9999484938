package monitor

import (
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// platformWatcher watches a single physical directory and emits RawEvents
// onto the shared channel it was constructed with. Its internal state is
// owned by its own goroutine and never touched externally; stop is the only
// cross-goroutine call and is safe to invoke once.
type platformWatcher interface {
	start() error
	stop()
	backend() config.Backend
}

type platformOptions struct {
	dir          string
	out          chan<- RawEvent
	logger       *logging.Logger
	pollInterval time.Duration
	scanBatch    int
	// onFailure is invoked when the backend has permanently failed for this
	// directory (restart attempts exhausted). The registry uses it to fall
	// back to polling.
	onFailure func(dir string, err error)
}

// probeBackend picks the backend once at startup. Auto prefers the native
// fsnotify backend and falls back to polling when the platform cannot
// provide one (e.g. inotify instance exhaustion).
func probeBackend(configured config.Backend, logger *logging.Logger) config.Backend {
	if configured != config.BackendAuto && configured != "" {
		return configured
	}
	probe, err := fsnotify.NewWatcher()
	if err != nil {
		if logger != nil {
			logger.Warn("native watch probe failed, using polling", map[string]string{
				"error": err.Error(),
			})
		}
		return config.BackendPoll
	}
	_ = probe.Close()
	return config.BackendFsnotify
}

func newPlatformWatcher(backend config.Backend, opts platformOptions) platformWatcher {
	if backend == config.BackendPoll {
		return newPollWatcher(opts)
	}
	return newFsnotifyWatcher(opts)
}
