package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fsmonitor/internal/api"
	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
	"fsmonitor/internal/monitor"

	"gopkg.in/natefinch/lumberjack.v2"
)

const version = "0.3.0"

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := loadCLIConfig(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "fsmonitor: %v\n", err)
		return 2
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "fsmonitor %s\n", version)
		return 0
	}

	logger := buildLogger(cfg.Log, stderr)

	if cfg.Verbose {
		for key, source := range cfg.Sources {
			logger.Debug("config value resolved", map[string]string{
				"key":    key,
				"source": string(source),
			})
		}
	}

	m, err := monitor.New(monitor.Options{
		Config: cfg.Monitor,
		Root:   cfg.Root,
		Logger: logger,
	})
	if err != nil {
		logger.Error("monitor startup failed", map[string]string{"error": err.Error()})
		return 1
	}
	defer m.Close()

	if !cfg.Monitor.Enabled {
		logger.Info("monitor disabled by configuration", nil)
		return 0
	}

	if err := registerRules(m, cfg.Rules, logger); err != nil {
		logger.Error("rule registration failed", map[string]string{"error": err.Error()})
		return 1
	}
	logger.Info("rules registered", map[string]string{
		"count": strconv.Itoa(len(cfg.Rules)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignalWatch := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignalWatch()

	var server *http.Server
	serverDone := make(chan error, 1)
	if cfg.Server.Addr != "" {
		mux := http.NewServeMux()
		api.RegisterRoutes(mux, m, logger, cfg.Server)
		server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("monitoring server listening", map[string]string{
				"addr": cfg.Server.Addr,
			})
			serverDone <- server.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitoring server stopped", map[string]string{"error": err.Error()})
			return 1
		}
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("monitoring server shutdown failed", map[string]string{"error": err.Error()})
		}
	}

	logger.Info("fsmonitor stopped", nil)
	return 0
}

// buildLogger writes formatted entries to stderr and, when a log file is
// configured, to a size-rotated file as well.
func buildLogger(cfg config.LogConfig, stderr io.Writer) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.Level)
	if !ok {
		level = logging.LevelInfo
	}

	output := stderr
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		output = io.MultiWriter(stderr, rotated)
	}

	return logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), level, output)
}
