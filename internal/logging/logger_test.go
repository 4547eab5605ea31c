package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase INFO", "INFO", slog.LevelInfo},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"uppercase TRACE", "TRACE", LevelTrace},
		{"mixed case Debug", "Debug", slog.LevelDebug},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"info level", "info"},
		{"debug level", "debug"},
		{"trace level", "trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtInfo  bool
	}{
		{"info filters debug", "info", false, true},
		{"debug passes debug", "debug", true, true},
		{"trace passes debug", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			hasDebug := strings.Contains(buf.String(), "debug message")
			if hasDebug != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", hasDebug, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("info message")
			hasInfo := strings.Contains(buf.String(), "info message")
			if hasInfo != tt.logAtInfo {
				t.Errorf("info message visible = %v, want %v (buf: %q)", hasInfo, tt.logAtInfo, buf.String())
			}
		})
	}
}

func TestLevelTrace(t *testing.T) {
	// Trace should be below debug (more verbose)
	if LevelTrace >= slog.LevelDebug {
		t.Errorf("LevelTrace (%d) should be less than LevelDebug (%d)", LevelTrace, slog.LevelDebug)
	}
}


func TestNewLoggerFormat_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFormat("trace", "json", &buf)
	logger.Log(context.Background(), LevelTrace, "tick", "n", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "TRACE" {
		t.Errorf("level = %v, want TRACE", entry["level"])
	}
	if entry["n"] != float64(3) {
		t.Errorf("n = %v, want 3", entry["n"])
	}
}

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("failed to read events.jsonl: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewEventLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "info")
	if el != nil {
		t.Error("expected nil EventLogger at info level")
	}

	el.Log(map[string]any{"event": "tick"})

	if _, err := os.Stat(filepath.Join(dir, "events.jsonl")); err == nil {
		t.Error("events.jsonl should not exist at info level")
	}
}

func TestNewEventLogger_DebugLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")
	defer el.Close()

	el.Log(map[string]any{"event": "tick", "regions": 4})

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0]["event"] != "tick" {
		t.Errorf("event = %v, want tick", events[0]["event"])
	}
	if events[0]["regions"] != float64(4) {
		t.Errorf("regions = %v, want 4", events[0]["regions"])
	}
	if _, ok := events[0]["time"]; !ok {
		t.Error("expected time field in event")
	}
}

func TestEventLogger_With(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "trace")
	defer el.Close()

	run := el.With(map[string]any{"run": "a", "seed": 7})
	run.Log(map[string]any{"event": "start"})
	el.Log(map[string]any{"event": "plain"})

	events := readEvents(t, dir)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0]["run"] != "a" || events[0]["seed"] != float64(7) {
		t.Errorf("derived logger fields missing: %v", events[0])
	}
	if _, ok := events[1]["run"]; ok {
		t.Errorf("base logger picked up derived fields: %v", events[1])
	}
}

func TestEventLogger_EventOverridesBase(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug").With(map[string]any{"phase": "init"})
	defer el.Close()

	el.Log(map[string]any{"phase": "run"})

	events := readEvents(t, dir)
	if events[0]["phase"] != "run" {
		t.Errorf("phase = %v, want run", events[0]["phase"])
	}
}

func TestEventLogger_NilSafety(t *testing.T) {
	var el *EventLogger
	el.Log(map[string]any{"event": "should_not_panic"})
	if el.With(map[string]any{"a": 1}) != nil {
		t.Error("With on nil logger should return nil")
	}
	el.Close()
}

func TestEventLogger_DoesNotMutateCallerMap(t *testing.T) {
	el := NewEventLogger(t.TempDir(), "debug")
	defer el.Close()

	event := map[string]any{"event": "tick"}
	el.Log(event)

	if _, ok := event["time"]; ok {
		t.Error("Log() should not inject time into the caller's map")
	}
}

func TestEventLogger_LogAfterClose(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")
	child := el.With(map[string]any{"run": 1})

	el.Log(map[string]any{"event": "before"})
	el.Close()
	child.Log(map[string]any{"event": "after"})

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Errorf("got %d events after close, want 1", len(events))
	}
}

func TestEventLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")
	defer el.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run := el.With(map[string]any{"run": i})
			for j := 0; j < 25; j++ {
				run.Log(map[string]any{"tick": j})
			}
		}(i)
	}
	wg.Wait()

	if got := len(readEvents(t, dir)); got != 200 {
		t.Errorf("got %d events, want 200", got)
	}
}

func TestNewEventLogger_CreatesDir(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "sub", "dir")
	el := NewEventLogger(nested, "debug")
	if el == nil {
		t.Fatal("expected non-nil EventLogger when dir needs creation")
	}
	defer el.Close()

	el.Log(map[string]any{"event": "created"})

	info, err := os.Stat(filepath.Join(nested, "events.jsonl"))
	if err != nil {
		t.Fatalf("events.jsonl should exist: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
