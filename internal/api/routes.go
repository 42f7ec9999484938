package api

import (
	"net/http"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
	"fsmonitor/internal/monitor"
)

// RegisterRoutes wires the monitor's observation surface onto mux:
// /api/status and /api/metrics (JSON), /ws/events and /ws/logs (websocket).
func RegisterRoutes(mux *http.ServeMux, m *monitor.Monitor, logger *logging.Logger, cfg config.ServerConfig) {
	rest := &RestHandler{Monitor: m}
	mux.HandleFunc("/api/status", restHandler(cfg.AuthToken, rest.handleStatus))
	mux.HandleFunc("/api/metrics", restHandler(cfg.AuthToken, rest.handleMetrics))

	events := &EventsHandler{
		Bus:            m.Bus(),
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	mux.Handle("/ws/events", loggingMiddleware(logger, events))

	logs := &LogsHandler{
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	mux.Handle("/ws/logs", loggingMiddleware(logger, logs))
}
