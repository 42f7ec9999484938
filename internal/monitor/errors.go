package monitor

import (
	"errors"

	"fsmonitor/internal/pattern"
)

var (
	// ErrInvalidPattern is returned by RegisterListener for malformed globs.
	ErrInvalidPattern = pattern.ErrInvalidPattern

	ErrMonitorClosed      = errors.New("monitor is closed")
	ErrMonitorDisabled    = errors.New("monitor is disabled")
	ErrWatchLimitExceeded = errors.New("watch limit exceeded")
	ErrAlreadyRegistered  = errors.New("listener already registered")
	ErrNotASymlink        = errors.New("not a symlink")
	ErrNotADirectory      = errors.New("not a directory")
	ErrCircularSymlink    = errors.New("circular symlink chain")
)
