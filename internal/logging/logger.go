// Package logging provides leveled operational logging and simulation
// event tracing for defsim:
//   - a leveled slog.Logger for stderr
//   - an EventLogger writing per-tick simulation events as JSONL (events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/defsim/internal/params"
)

// LevelTrace sits below Debug. At this level every tick of a run is logged.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps "info", "debug" or "trace" (any case) to a slog.Level.
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return NewLoggerFormat(level, "text", w)
}

// NewLoggerFormat creates a leveled logger using the "text" or "json"
// handler.
func NewLoggerFormat(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// EventLogger appends simulation events to a JSONL file. It is safe for
// concurrent use by parallel runs. A nil EventLogger is a no-op.
type EventLogger struct {
	sink *eventSink
	base map[string]any
}

type eventSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewEventLogger opens dir/events.jsonl for append when level is debug or
// trace. At info it returns nil and creates nothing. It also returns nil
// when the file cannot be opened.
func NewEventLogger(dir string, level string) *EventLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &EventLogger{sink: &eventSink{file: f}}
}

// With returns a logger that adds fields to every event. It shares the
// file with el.
func (el *EventLogger) With(fields map[string]any) *EventLogger {
	if el == nil {
		return nil
	}
	return &EventLogger{sink: el.sink, base: params.Merge(el.base, fields)}
}

// Log writes one event line. A "time" field is added and the caller's map
// is left untouched.
func (el *EventLogger) Log(event map[string]any) {
	if el == nil {
		return
	}

	entry := params.Merge(el.base, event)
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	el.sink.mu.Lock()
	defer el.sink.mu.Unlock()
	if el.sink.file == nil {
		return
	}
	_, _ = el.sink.file.Write(data)
}

// Close closes the underlying file for el and every logger derived from it.
func (el *EventLogger) Close() {
	if el == nil {
		return
	}
	el.sink.mu.Lock()
	defer el.sink.mu.Unlock()
	if el.sink.file != nil {
		el.sink.file.Close()
		el.sink.file = nil
	}
}
