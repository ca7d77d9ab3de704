package chat

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DebugLogger writes JSON lines to the debug log when -d/--debug or
// CEBUS_DEBUG=1 is set. A nil logger is valid and drops everything.
type DebugLogger struct {
	out    io.WriteCloser
	closed bool
}

type debugEvent struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// OpenDebugLogger appends to ~/.config/cebus/debug.log.
func OpenDebugLogger() (*DebugLogger, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, ".config", "cebus")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{out: f}, nil
}

// NewDebugLogger wraps an arbitrary writer, mainly for tests.
func NewDebugLogger(out io.WriteCloser) *DebugLogger {
	return &DebugLogger{out: out}
}

// DebugEnabled reports whether the environment asks for debug logging.
func DebugEnabled() bool {
	return os.Getenv("CEBUS_DEBUG") == "1"
}

func (l *DebugLogger) Log(event string, fields map[string]any) {
	if l == nil || l.closed {
		return
	}
	payload, err := json.Marshal(debugEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     event,
		Fields:    fields,
	})
	if err != nil {
		return
	}
	payload = append(payload, '\n')
	_, _ = l.out.Write(payload)
}

func (l *DebugLogger) Close() {
	if l == nil || l.closed {
		return
	}
	l.closed = true
	_ = l.out.Close()
}
