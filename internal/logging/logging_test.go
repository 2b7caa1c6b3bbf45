package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelInfo)

	logger.Info("reading persisted", "device_id", "device-001")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("Expected valid JSON output, got error: %v\noutput: %s", err, buf.String())
	}
	if m["msg"] != "reading persisted" {
		t.Errorf("Expected msg 'reading persisted', got %q", m["msg"])
	}
	if m["device_id"] != "device-001" {
		t.Errorf("Expected device_id 'device-001', got %q", m["device_id"])
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "TEXT", slog.LevelInfo)

	logger.Info("tick", "devices", 3)

	out := buf.String()
	if !strings.Contains(out, "msg=tick") {
		t.Errorf("Expected text output containing msg, got: %s", out)
	}
	if !strings.Contains(out, "devices=3") {
		t.Errorf("Expected text output containing devices=3, got: %s", out)
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelWarn)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got: %s", buf.String())
	}
}
