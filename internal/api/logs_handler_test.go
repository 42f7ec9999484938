package api

import (
	"testing"
	"time"

	"fsmonitor/internal/logging"

	"github.com/gorilla/websocket"
)

func readLogEntry(t *testing.T, conn *websocket.Conn) logging.Entry {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var entry logging.Entry
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read log entry: %v", err)
	}
	return entry
}

func waitForLogMessage(t *testing.T, conn *websocket.Conn, message string) logging.Entry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entry := readLogEntry(t, conn)
		if entry.Message == message {
			return entry
		}
	}
	t.Fatalf("log message %q never arrived", message)
	return logging.Entry{}
}

func TestLogsStreamReplaysBacklogThenLive(t *testing.T) {
	server, _, logger := newTestServer(t, "")

	logger.Info("backlog entry", map[string]string{"n": "1"})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL, "/ws/logs"), nil)
	if err != nil {
		t.Fatalf("dial logs: %v", err)
	}
	defer conn.Close()

	waitForLogMessage(t, conn, "backlog entry")

	logger.Warn("live entry", nil)
	entry := waitForLogMessage(t, conn, "live entry")
	if entry.Level != logging.LevelWarning {
		t.Fatalf("expected warning level, got %q", entry.Level)
	}
}

func TestLogsStreamFiltersByLevel(t *testing.T) {
	server, _, logger := newTestServer(t, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL, "/ws/logs?level=error"), nil)
	if err != nil {
		t.Fatalf("dial logs: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	logger.Debug("too quiet", nil)
	logger.Error("loud enough", nil)

	entry := waitForLogMessage(t, conn, "loud enough")
	if entry.Level != logging.LevelError {
		t.Fatalf("expected error level, got %q", entry.Level)
	}
}
