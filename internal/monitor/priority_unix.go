//go:build linux || darwin

package monitor

import (
	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"

	"golang.org/x/sys/unix"
)

// applyThreadPriority maps the configured priority onto the process nice
// value. Raising priority needs privileges; failure is logged, not fatal.
func applyThreadPriority(priority config.Priority, logger *logging.Logger) {
	var nice int
	switch priority {
	case config.PriorityLow:
		nice = 10
	case config.PriorityHigh:
		nice = -10
	default:
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		if logger != nil {
			logger.Warn("thread priority not applied", map[string]string{
				"priority": string(priority),
				"error":    err.Error(),
			})
		}
	}
}
