package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// captureLogger returns a logger writing JSON lines into buf.
func captureLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

func TestModuleAttribute(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf, slog.LevelInfo).Module("engine")

	l.Info("head updated", "height", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if entry["module"] != "engine" {
		t.Errorf("module = %v, want engine", entry["module"])
	}
	if entry["msg"] != "head updated" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["height"] != float64(42) {
		t.Errorf("height = %v", entry["height"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf, slog.LevelWarn)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug/info leaked through warn level: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn entry missing: %s", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf, slog.LevelInfo).With("peer", "a1")

	l.Info("message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if entry["peer"] != "a1" {
		t.Errorf("peer = %v, want a1", entry["peer"])
	}
}

func TestSetDefault(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(captureLogger(&buf, slog.LevelInfo))
	Info("through default")

	if !strings.Contains(buf.String(), "through default") {
		t.Error("package-level Info did not reach the replaced default logger")
	}

	// Nil is ignored.
	SetDefault(nil)
	if Default() == nil {
		t.Error("SetDefault(nil) must not clear the default logger")
	}
}
