// Package audit emits structured JSON audit events for the run
// lifecycle: gate decisions, persistence, rollback. These events are
// operational telemetry; the signed receipt remains the authoritative
// record.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventRun      EventType = "RUN"
	EventPolicy   EventType = "POLICY"
	EventReceipt  EventType = "RECEIPT"
	EventRollback EventType = "ROLLBACK"
)

// Event is a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	RunID     string         `json:"runID,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, actor, action, runID string, metadata map[string]any) error
}

// logger writes JSON lines to a mutex-guarded writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

// Nop returns a Logger that discards every event.
func Nop() Logger {
	return &logger{writer: io.Discard}
}

func (l *logger) Record(ctx context.Context, eventType EventType, actor, action, runID string, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      eventType,
		Action:    action,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}
