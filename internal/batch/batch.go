// Package batch loads request batches for offline or remote execution.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/opencode-ai/lgworker/internal/models"
)

var (
	// ErrNoRequests is returned when a batch has no requests.
	ErrNoRequests = errors.New("batch must have at least one request")
	// ErrDuplicateID is returned when two requests share an id.
	ErrDuplicateID = errors.New("duplicate request id")
)

// EntryValidationError describes a validation error in a batch.
type EntryValidationError struct {
	Field   string
	Index   int
	Message string
}

func (e *EntryValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("batch %s[%d]: %s", e.Field, e.Index, e.Message)
	}
	return fmt.Sprintf("batch %s: %s", e.Field, e.Message)
}

// Batch is a named list of requests plus the documents they share.
type Batch struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Documents   []DocumentRef `yaml:"documents,omitempty" json:"documents,omitempty"`
	Requests    []Entry       `yaml:"requests" json:"requests"`
	Source      string        `yaml:"-" json:"-"` // file path the batch was loaded from
}

// DocumentRef names an LG document by inline content or by path relative
// to the batch file.
type DocumentRef struct {
	ID      string `yaml:"id" json:"id"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
}

// Entry is one request in a batch. ContentFile, when set, replaces
// payload.content with the contents of that file.
type Entry struct {
	ID          string               `yaml:"id,omitempty" json:"id,omitempty"`
	Type        models.OperationKind `yaml:"type" json:"type"`
	Payload     models.Payload       `yaml:"payload" json:"payload"`
	ContentFile string               `yaml:"contentFile,omitempty" json:"contentFile,omitempty"`
}

// Validate checks the batch structure. Operation kinds are not checked:
// unsupported kinds are answered by the worker.
func (b *Batch) Validate() error {
	if len(b.Requests) == 0 {
		return ErrNoRequests
	}
	for i, doc := range b.Documents {
		if strings.TrimSpace(doc.ID) == "" {
			return &EntryValidationError{Field: "documents", Index: i, Message: "id is required"}
		}
	}
	seen := make(map[string]int, len(b.Requests))
	for i, entry := range b.Requests {
		if strings.TrimSpace(string(entry.Type)) == "" {
			return &EntryValidationError{Field: "requests", Index: i, Message: "type is required"}
		}
		if entry.ID == "" {
			continue
		}
		if first, dup := seen[entry.ID]; dup {
			return &EntryValidationError{
				Field:   "requests",
				Index:   i,
				Message: fmt.Sprintf("%v: %q already used by requests[%d]", ErrDuplicateID, entry.ID, first),
			}
		}
		seen[entry.ID] = i
	}
	return nil
}

// Expand expands the batch into worker requests. Missing ids are
// generated, content files are read, and parse requests without their own
// lgFiles receive the batch documents.
func (b *Batch) Expand() ([]models.Request, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	docs, err := b.documents()
	if err != nil {
		return nil, err
	}

	out := make([]models.Request, 0, len(b.Requests))
	for i, entry := range b.Requests {
		req := models.Request{
			ID:      entry.ID,
			Type:    entry.Type,
			Payload: entry.Payload,
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if entry.ContentFile != "" {
			data, err := os.ReadFile(b.resolve(entry.ContentFile))
			if err != nil {
				return nil, fmt.Errorf("requests[%d]: read content file: %w", i, err)
			}
			req.Payload.Content = string(data)
		}
		if req.Type == models.OperationParse && len(req.Payload.LGFiles) == 0 && len(docs) > 0 {
			req.Payload.LGFiles = append([]models.Document(nil), docs...)
		}
		out = append(out, req)
	}
	return out, nil
}

func (b *Batch) documents() ([]models.Document, error) {
	docs := make([]models.Document, 0, len(b.Documents))
	for i, ref := range b.Documents {
		content := ref.Content
		if ref.Path != "" {
			data, err := os.ReadFile(b.resolve(ref.Path))
			if err != nil {
				return nil, fmt.Errorf("documents[%d]: %w", i, err)
			}
			content = string(data)
		}
		docs = append(docs, models.Document{ID: ref.ID, Content: content})
	}
	return docs, nil
}

// resolve interprets path relative to the batch file.
func (b *Batch) resolve(path string) string {
	if filepath.IsAbs(path) || b.Source == "" {
		return path
	}
	return filepath.Join(filepath.Dir(b.Source), path)
}
