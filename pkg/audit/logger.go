// Package audit records the gateway's decision trail as structured JSON
// events, one line per event. The commit ledger is the authoritative record;
// audit events are the operational view of it.
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
	EventProposal     EventType = "PROPOSAL"
	EventDecision     EventType = "DECISION"
	EventReview       EventType = "REVIEW"
	EventUndo         EventType = "UNDO"
	EventPromotion    EventType = "PROMOTION"
	EventPolicyReload EventType = "POLICY_RELOAD"
)

// Event represents a structured audit record.
type Event struct {
	ID        string                 `json:"id"`
	ActorID   string                 `json:"actor_id"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, actor, action, resource string, metadata map[string]interface{}) error
}

// logger implements Logger, writing structured JSON to a configurable Writer.
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

func (l *logger) Record(_ context.Context, eventType EventType, actor, action, resource string, metadata map[string]interface{}) error {
	if actor == "" {
		actor = "system"
	}
	event := Event{
		ID:        uuid.New().String(),
		ActorID:   actor,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
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

// Nop discards all events. Used where callers do not wire auditing.
type Nop struct{}

func (Nop) Record(context.Context, EventType, string, string, string, map[string]interface{}) error {
	return nil
}
