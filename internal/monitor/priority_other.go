//go:build !linux && !darwin

package monitor

import (
	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
)

func applyThreadPriority(priority config.Priority, logger *logging.Logger) {
	if priority == config.PriorityNormal || priority == "" {
		return
	}
	if logger != nil {
		logger.Debug("thread priority unsupported on this platform", map[string]string{
			"priority": string(priority),
		})
	}
}
