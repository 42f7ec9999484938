package logging

import (
	"strings"
	"testing"
)

func TestLoggerRespectsMinLevel(t *testing.T) {
	buffer := NewBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, nil)

	logger.Info("ignored", nil)
	logger.Warn("kept", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "kept" {
		t.Fatalf("expected message %q, got %q", "kept", entries[0].Message)
	}
}

func TestLoggerWithMergesFields(t *testing.T) {
	buffer := NewBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelDebug, nil)

	scoped := logger.With(map[string]string{"fsmonitor.category": "registry"})
	scoped.Info("watch added", map[string]string{"path": "/tmp"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].Fields
	if fields["fsmonitor.category"] != "registry" {
		t.Fatalf("expected base field to survive, got %v", fields)
	}
	if fields["path"] != "/tmp" {
		t.Fatalf("expected call field to survive, got %v", fields)
	}
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	buffer := NewBuffer(2)
	buffer.Add(Entry{Message: "a"})
	buffer.Add(Entry{Message: "b"})
	buffer.Add(Entry{Message: "c"})

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "b" || entries[1].Message != "c" {
		t.Fatalf("expected [b c], got [%s %s]", entries[0].Message, entries[1].Message)
	}
}

func TestHubSubscribeReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Broadcast(Entry{Message: "hello"})

	select {
	case entry := <-ch:
		if entry.Message != "hello" {
			t.Fatalf("expected message %q, got %q", "hello", entry.Message)
		}
	default:
		t.Fatal("expected a buffered entry")
	}
}

func TestFormatEntrySortsFields(t *testing.T) {
	line := formatEntry(Entry{
		Level:   LevelInfo,
		Message: "watch added",
		Fields:  map[string]string{"zeta": "1", "alpha": "2"},
	})
	alpha := strings.Index(line, "alpha=")
	zeta := strings.Index(line, "zeta=")
	if alpha < 0 || zeta < 0 || alpha > zeta {
		t.Fatalf("expected sorted fields, got %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	if level, ok := ParseLevel(" WARN "); !ok || level != LevelWarning {
		t.Fatalf("expected warning, got %q ok=%v", level, ok)
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected unknown level to fail")
	}
}
