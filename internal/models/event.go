package models

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType categorizes journal events.
type EventType string

const (
	// Operation events
	EventTypeOperationSucceeded EventType = "operation.succeeded"
	EventTypeOperationFailed    EventType = "operation.failed"
	EventTypeOperationRejected  EventType = "operation.rejected"

	// Worker events
	EventTypeWorkerStarted EventType = "worker.started"
	EventTypeWorkerStopped EventType = "worker.stopped"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeRequest EntityType = "request"
	EntityTypeWorker  EntityType = "worker"
)

// Event represents an append-only journal entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the event is valid.
func (e *Event) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(string(e.Type)) == "" {
		validation.AddMessage("type", "event type is required")
	}
	if strings.TrimSpace(string(e.EntityType)) == "" {
		validation.AddMessage("entity_type", "entity_type is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		validation.AddMessage("entity_id", "entity_id is required")
	}
	return validation.Err()
}

// OperationPayload is the payload for operation.* events.
type OperationPayload struct {
	Operation   OperationKind `json:"operation"`
	DurationMS  int64         `json:"duration_ms"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Templates   int           `json:"templates,omitempty"`
	Diagnostics int           `json:"diagnostics,omitempty"`
}

// WorkerPayload is the payload for worker.* events.
type WorkerPayload struct {
	QueueSize           int   `json:"queue_size"`
	MaxConcurrentParses int   `json:"max_concurrent_parses"`
	Received            int64 `json:"received,omitempty"`
}
