// Package events records worker activity in the operation journal.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencode-ai/lgworker/internal/models"
)

// Repository is the minimal interface needed to write events.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
}

// Outcome summarises one completed dispatch.
type Outcome struct {
	RequestID string
	Operation models.OperationKind
	Response  models.Response
	Duration  time.Duration
}

// LogOperation records the outcome of a dispatched request. Rejected
// requests (unknown operation, malformed payload, rate limited) are recorded
// separately from operations that ran and failed.
func LogOperation(ctx context.Context, repo Repository, outcome Outcome) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}

	payload := models.OperationPayload{
		Operation:  outcome.Operation,
		DurationMS: outcome.Duration.Milliseconds(),
	}
	eventType := models.EventTypeOperationSucceeded

	if info := outcome.Response.Error; info != nil {
		payload.ErrorKind = info.Kind
		payload.Error = info.Message
		eventType = models.EventTypeOperationFailed
		switch info.Kind {
		case models.ErrorKindUnknownOperation, models.ErrorKindMalformedRequest, models.ErrorKindRateLimited:
			eventType = models.EventTypeOperationRejected
		}
	} else {
		switch result := outcome.Response.Payload.(type) {
		case *models.ParseResult:
			payload.Templates = len(result.Templates)
			payload.Diagnostics = len(result.Diagnostics)
		case *models.EditResult:
			payload.Templates = len(result.Templates)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal operation payload: %w", err)
	}

	entityID := outcome.RequestID
	if entityID == "" {
		entityID = "(none)"
	}

	return repo.Create(ctx, &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeRequest,
		EntityID:   entityID,
		Payload:    data,
		Metadata:   map[string]string{"operation": string(outcome.Operation)},
	})
}

// LogWorkerLifecycle records a worker start or stop.
func LogWorkerLifecycle(ctx context.Context, repo Repository, eventType models.EventType, workerID string, payload models.WorkerPayload) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}
	if workerID == "" {
		return fmt.Errorf("worker id is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal worker payload: %w", err)
	}

	return repo.Create(ctx, &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeWorker,
		EntityID:   workerID,
		Payload:    data,
	})
}
