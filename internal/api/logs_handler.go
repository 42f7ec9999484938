package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fsmonitor/internal/logging"

	"github.com/gorilla/websocket"
)

// LogsHandler streams the logger's entries over a websocket. The buffered
// backlog is written first, then live entries as they arrive. The minimum
// level comes from the "level" query parameter and can be changed in flight
// with {"level": "warning"}.
type LogsHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	filter := &levelFilter{}
	if rawLevel := r.URL.Query().Get("level"); rawLevel != "" {
		if level, ok := logging.ParseLevel(rawLevel); ok {
			filter.Set(level)
		}
	}

	if h.Logger == nil {
		writeWSError(w, r, nil, nil, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "log stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	output, cancel := h.Logger.Subscribe()
	if output == nil {
		writeWSError(w, r, nil, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "log stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		cancel()
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	var backlog []logging.Entry
	if buffer := h.Logger.Buffer(); buffer != nil {
		backlog = buffer.List()
	}

	writer, err := startWSWriteLoop(wsStreamConfig[logging.Entry]{
		Conn:   conn,
		Output: output,
		Logger: h.Logger,
		PreWrite: func(conn *websocket.Conn) error {
			return writeLogBacklog(conn, backlog, filter.Get())
		},
		BuildPayload: func(entry logging.Entry) (any, bool) {
			if minLevel := filter.Get(); minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
				return nil, false
			}
			return entry, true
		},
	})
	if err != nil {
		cancel()
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "log stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer cancel()
	defer writer.Stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload logFilterMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		if level, ok := logging.ParseLevel(payload.Level); ok {
			filter.Set(level)
		}
	}
}

func writeLogBacklog(conn *websocket.Conn, backlog []logging.Entry, minLevel logging.Level) error {
	for _, entry := range backlog {
		if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}
