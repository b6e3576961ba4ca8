package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, "driver")
	l.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

	l.Debug("hidden %d", 1)
	l.Info("tick=%d", 3)
	l.With("policy").Warn("reload failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "2026-10-19T12:00:00Z INFO driver: tick=3" {
		t.Errorf("unexpected line: %q", lines[0])
	}
	if lines[1] != "2026-10-19T12:00:00Z WARN policy: reload failed" {
		t.Errorf("unexpected line: %q", lines[1])
	}
}

func TestLogger_NilAndDiscard(t *testing.T) {
	var l *Logger
	l.Info("no panic")
	Discard().Error("dropped")
}
