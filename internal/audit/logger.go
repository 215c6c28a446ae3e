// Package audit appends structured events to the audit.jsonl log. Writes are
// best-effort: a full buffer or a write failure never propagates to callers.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded by the core.
const (
	KindToolExec     = "tool_exec"
	KindToolDenied   = "tool_denied"
	KindSchedulerRun = "scheduler_run"
)

// Event is one audit log record, serialized as a single JSON line.
type Event struct {
	ID         string         `json:"id"`
	Time       time.Time      `json:"time"`
	Kind       string         `json:"kind"`
	SessionKey string         `json:"sessionKey,omitempty"`
	RunID      string         `json:"runId,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Logger appends events to the audit file through an async buffered writer.
// A nil or disabled Logger silently drops every event.
type Logger struct {
	file   *os.File
	buffer chan *Event
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

const defaultBufferSize = 256

// NewLogger opens (or creates) the append-only audit file at path. When
// enabled is false the returned logger discards everything.
func NewLogger(path string, enabled bool) (*Logger, error) {
	if !enabled {
		return &Logger{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		file:   f,
		buffer: make(chan *Event, defaultBufferSize),
		logger: slog.Default().With("component", "audit"),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log queues an event for writing. Missing id/time fields are filled in.
// Drops the event when the buffer is full or the logger is closed.
func (l *Logger) Log(event *Event) {
	if l == nil || l.file == nil || event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}

	select {
	case l.buffer <- event:
	default:
		l.logger.Warn("audit buffer full, dropping event", "kind", event.Kind)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for event := range l.buffer {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("marshal audit event", "error", err)
			continue
		}
		line = append(line, '\n')
		if _, err := l.file.Write(line); err != nil {
			l.logger.Warn("write audit event", "error", err)
		}
	}
}

// Close drains buffered events and closes the file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.buffer)
	l.wg.Wait()
	return l.file.Close()
}
