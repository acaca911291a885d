package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opencode-ai/lgworker/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newOperationEvent(t *testing.T, requestID string, eventType models.EventType, at time.Time) *models.Event {
	t.Helper()

	payload, err := json.Marshal(models.OperationPayload{Operation: models.OperationParse, DurationMS: 3})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &models.Event{
		Timestamp:  at,
		Type:       eventType,
		EntityType: models.EntityTypeRequest,
		EntityID:   requestID,
		Payload:    payload,
		Metadata:   map[string]string{"operation": string(models.OperationParse)},
	}
}

func TestEventRepository_CreateGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	event := newOperationEvent(t, "req-1", models.EventTypeOperationSucceeded, time.Time{})
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if event.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be assigned")
	}

	got, err := repo.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EntityID != "req-1" || got.Type != models.EventTypeOperationSucceeded {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Metadata["operation"] != "parse" {
		t.Fatalf("unexpected metadata: %v", got.Metadata)
	}
	if !got.Timestamp.Equal(event.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, event.Timestamp)
	}

	var payload models.OperationPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Operation != models.OperationParse {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestEventRepository_GetMissing(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestEventRepository_CreateInvalid(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	err := repo.Create(context.Background(), &models.Event{Type: models.EventTypeOperationFailed})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestEventRepository_QueryPaging(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		eventType := models.EventTypeOperationSucceeded
		if i%2 == 1 {
			eventType = models.EventTypeOperationFailed
		}
		if err := repo.Create(ctx, newOperationEvent(t, id, eventType, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	page, err := repo.Query(ctx, EventQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].EntityID != "a" || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %d events, cursor %q", len(page.Events), page.NextCursor)
	}

	page, err = repo.Query(ctx, EventQuery{Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].EntityID != "c" {
		t.Fatalf("unexpected second page: %+v", page.Events)
	}

	failed := models.EventTypeOperationFailed
	page, err = repo.Query(ctx, EventQuery{Type: &failed})
	if err != nil {
		t.Fatalf("Query by type: %v", err)
	}
	if len(page.Events) != 2 || page.NextCursor != "" {
		t.Fatalf("expected 2 failed events on a single page, got %d", len(page.Events))
	}

	since := base.Add(3 * time.Millisecond)
	page, err = repo.Query(ctx, EventQuery{Since: &since})
	if err != nil {
		t.Fatalf("Query since: %v", err)
	}
	if len(page.Events) != 2 || page.Events[0].EntityID != "d" {
		t.Fatalf("unexpected events since %v: %d", since, len(page.Events))
	}

	counts, err := repo.CountByType(ctx)
	if err != nil {
		t.Fatalf("CountByType: %v", err)
	}
	if counts[models.EventTypeOperationSucceeded] != 3 || counts[models.EventTypeOperationFailed] != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
