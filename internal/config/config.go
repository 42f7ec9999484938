// Package config loads and validates fsmonitor configuration from YAML.
//
// Load starts from Default and overlays only the keys present in the file,
// so absent keys keep their defaults. Environment and flag overrides are
// applied by the binary, not here.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Backend string

const (
	BackendAuto     Backend = "auto"
	BackendFsnotify Backend = "fsnotify"
	BackendPoll     Backend = "poll"
)

type Config struct {
	Monitor MonitorConfig `yaml:"fs_monitor"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Rules   []Rule        `yaml:"rules"`
}

// MonitorConfig is the fs_monitor.* surface consumed by the monitor core.
type MonitorConfig struct {
	Enabled                bool     `yaml:"enabled"`
	FollowSymlinks         bool     `yaml:"follow_symlinks"`
	MaxWatches             int      `yaml:"max_watches"`
	DefaultDebounceMS      int      `yaml:"default_debounce_ms"`
	SymlinkMaxDepth        int      `yaml:"symlink_max_depth"`
	DirectoryScanBatchSize int      `yaml:"directory_scan_batch_size"`
	ThreadPriority         Priority `yaml:"thread_priority"`
	Backend                Backend  `yaml:"backend"`
	PollIntervalMS         int      `yaml:"poll_interval_ms"`
}

// ServerConfig controls the optional monitoring HTTP server. An empty Addr
// disables it.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Rule declares one listener registered by the fsmonitor binary. A nil
// DebounceMS inherits default_debounce_ms; a negative value requests inline
// (undebounced) delivery.
type Rule struct {
	Pattern    string   `yaml:"pattern"`
	DebounceMS *int     `yaml:"debounce_ms"`
	Events     []string `yaml:"events"`
}

func Default() Config {
	return Config{
		Monitor: MonitorConfig{
			Enabled:                true,
			FollowSymlinks:         true,
			MaxWatches:             1000,
			DefaultDebounceMS:      100,
			SymlinkMaxDepth:        10,
			DirectoryScanBatchSize: 1000,
			ThreadPriority:         PriorityNormal,
			Backend:                BackendAuto,
			PollIntervalMS:         500,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads path and overlays it onto the defaults. A missing file returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	for i, rule := range c.Rules {
		if rule.Pattern == "" {
			return fmt.Errorf("%w: rules[%d]: pattern is required", ErrInvalidConfig, i)
		}
		if rule.DebounceMS != nil && *rule.DebounceMS > 10000 {
			return fmt.Errorf("%w: rules[%d]: debounce_ms must be at most 10000", ErrInvalidConfig, i)
		}
	}
	return nil
}

func (m MonitorConfig) validate() error {
	if m.MaxWatches < 1 || m.MaxWatches > 10000 {
		return fmt.Errorf("%w: fs_monitor.max_watches must be in [1,10000], got %d", ErrInvalidConfig, m.MaxWatches)
	}
	if m.DefaultDebounceMS < 0 || m.DefaultDebounceMS > 10000 {
		return fmt.Errorf("%w: fs_monitor.default_debounce_ms must be in [0,10000], got %d", ErrInvalidConfig, m.DefaultDebounceMS)
	}
	if m.SymlinkMaxDepth < 1 || m.SymlinkMaxDepth > 100 {
		return fmt.Errorf("%w: fs_monitor.symlink_max_depth must be in [1,100], got %d", ErrInvalidConfig, m.SymlinkMaxDepth)
	}
	if m.DirectoryScanBatchSize < 100 || m.DirectoryScanBatchSize > 10000 {
		return fmt.Errorf("%w: fs_monitor.directory_scan_batch_size must be in [100,10000], got %d", ErrInvalidConfig, m.DirectoryScanBatchSize)
	}
	switch m.ThreadPriority {
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return fmt.Errorf("%w: fs_monitor.thread_priority must be low, normal, or high, got %q", ErrInvalidConfig, m.ThreadPriority)
	}
	switch m.Backend {
	case BackendAuto, BackendFsnotify, BackendPoll:
	default:
		return fmt.Errorf("%w: fs_monitor.backend must be auto, fsnotify, or poll, got %q", ErrInvalidConfig, m.Backend)
	}
	if m.PollIntervalMS < 50 {
		return fmt.Errorf("%w: fs_monitor.poll_interval_ms must be at least 50, got %d", ErrInvalidConfig, m.PollIntervalMS)
	}
	return nil
}
