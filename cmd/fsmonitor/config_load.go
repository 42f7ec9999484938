package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fsmonitor/internal/config"
)

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type cliConfig struct {
	config.Config
	Root        string
	ConfigPath  string
	Verbose     bool
	ShowVersion bool
	Sources     map[string]configSource
}

type flagValues struct {
	ConfigPath string
	Root       string
	Addr       string
	Token      string
	LogLevel   string
	LogFile    string
	Backend    string
	Enabled    bool
	Verbose    bool
	Version    bool
	Set        map[string]bool
}

func parseFlags(args []string, output io.Writer) (flagValues, error) {
	flags := flagValues{Set: make(map[string]bool)}
	fs := flag.NewFlagSet("fsmonitor", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&flags.ConfigPath, "config", "", "path to the YAML configuration file")
	fs.StringVar(&flags.Root, "root", "", "directory relative patterns resolve against (default: working directory)")
	fs.StringVar(&flags.Addr, "addr", "", "monitoring server listen address (empty disables the server)")
	fs.StringVar(&flags.Token, "token", "", "bearer token required by the monitoring server")
	fs.StringVar(&flags.LogLevel, "log-level", "", "minimum log level (debug, info, warning, error)")
	fs.StringVar(&flags.LogFile, "log-file", "", "rotating log file path (empty logs to stderr only)")
	fs.StringVar(&flags.Backend, "backend", "", "watch backend (auto, fsnotify, poll)")
	fs.BoolVar(&flags.Enabled, "enabled", true, "enable the monitor")
	fs.BoolVar(&flags.Verbose, "verbose", false, "log effective configuration on startup")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	fs.Visit(func(f *flag.Flag) {
		flags.Set[f.Name] = true
	})
	return flags, nil
}

// loadCLIConfig layers the configuration: built-in defaults, then the YAML
// file, then FSMONITOR_* environment variables, then flags. Sources records
// where each effective value came from.
func loadCLIConfig(args []string, output io.Writer) (cliConfig, error) {
	flags, err := parseFlags(args, output)
	if err != nil {
		return cliConfig{}, err
	}

	configPath := os.Getenv("FSMONITOR_CONFIG")
	if flags.Set["config"] {
		configPath = flags.ConfigPath
	}

	fileCfg, err := config.Load(configPath)
	if err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		Config:      fileCfg,
		ConfigPath:  configPath,
		Verbose:     flags.Verbose,
		ShowVersion: flags.Version,
		Sources:     make(map[string]configSource),
	}
	fileSource := sourceDefault
	if configPath != "" {
		fileSource = sourceFile
	}

	root := ""
	rootSource := sourceDefault
	if rawRoot := strings.TrimSpace(os.Getenv("FSMONITOR_ROOT")); rawRoot != "" {
		root = rawRoot
		rootSource = sourceEnv
	}
	if flags.Set["root"] {
		trimmed := strings.TrimSpace(flags.Root)
		if trimmed == "" {
			return cliConfig{}, fmt.Errorf("invalid --root: value cannot be empty")
		}
		root = trimmed
		rootSource = sourceFlag
	}
	cfg.Root = root
	cfg.Sources["root"] = rootSource

	addr := cfg.Server.Addr
	addrSource := fileSource
	if rawAddr := strings.TrimSpace(os.Getenv("FSMONITOR_ADDR")); rawAddr != "" {
		addr = rawAddr
		addrSource = sourceEnv
	}
	if flags.Set["addr"] {
		addr = flags.Addr
		addrSource = sourceFlag
	}
	cfg.Server.Addr = addr
	cfg.Sources["addr"] = addrSource

	token := cfg.Server.AuthToken
	tokenSource := fileSource
	if rawToken := os.Getenv("FSMONITOR_TOKEN"); rawToken != "" {
		token = rawToken
		tokenSource = sourceEnv
	}
	if flags.Set["token"] {
		token = flags.Token
		tokenSource = sourceFlag
	}
	cfg.Server.AuthToken = token
	cfg.Sources["token"] = tokenSource

	logLevel := cfg.Log.Level
	logLevelSource := fileSource
	if rawLevel := strings.TrimSpace(os.Getenv("FSMONITOR_LOG_LEVEL")); rawLevel != "" {
		logLevel = rawLevel
		logLevelSource = sourceEnv
	}
	if flags.Set["log-level"] {
		logLevel = flags.LogLevel
		logLevelSource = sourceFlag
	}
	cfg.Log.Level = logLevel
	cfg.Sources["log-level"] = logLevelSource

	logFile := cfg.Log.File
	logFileSource := fileSource
	if rawFile := strings.TrimSpace(os.Getenv("FSMONITOR_LOG_FILE")); rawFile != "" {
		logFile = rawFile
		logFileSource = sourceEnv
	}
	if flags.Set["log-file"] {
		logFile = flags.LogFile
		logFileSource = sourceFlag
	}
	cfg.Log.File = logFile
	cfg.Sources["log-file"] = logFileSource

	backend := cfg.Monitor.Backend
	backendSource := fileSource
	if rawBackend := strings.TrimSpace(os.Getenv("FSMONITOR_BACKEND")); rawBackend != "" {
		backend = config.Backend(rawBackend)
		backendSource = sourceEnv
	}
	if flags.Set["backend"] {
		backend = config.Backend(flags.Backend)
		backendSource = sourceFlag
	}
	switch backend {
	case config.BackendAuto, config.BackendFsnotify, config.BackendPoll:
	default:
		return cliConfig{}, fmt.Errorf("invalid backend %q: must be auto, fsnotify, or poll", backend)
	}
	cfg.Monitor.Backend = backend
	cfg.Sources["backend"] = backendSource

	enabled := cfg.Monitor.Enabled
	enabledSource := fileSource
	if rawEnabled := strings.TrimSpace(os.Getenv("FSMONITOR_ENABLED")); rawEnabled != "" {
		if parsed, err := strconv.ParseBool(rawEnabled); err == nil {
			enabled = parsed
			enabledSource = sourceEnv
		}
	}
	if flags.Set["enabled"] {
		enabled = flags.Enabled
		enabledSource = sourceFlag
	}
	cfg.Monitor.Enabled = enabled
	cfg.Sources["enabled"] = enabledSource

	return cfg, nil
}
