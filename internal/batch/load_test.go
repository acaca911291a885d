package batch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencode-ai/lgworker/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const yamlBatch = `name: greetings
description: add and copy
documents:
  - id: common
    path: common.lg
requests:
  - id: add
    type: addTemplate
    payload:
      content: "# Greeting\n- Hello"
      template:
        name: Farewell
        body: "- Bye"
  - type: parse
    contentFile: main.lg
    payload:
      targetId: main
`

func TestLoadYAMLBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.lg", "# Welcome\n- hi")
	writeFile(t, dir, "main.lg", "[common](common.lg)\n# Greeting\n- ${Welcome()}")
	path := writeFile(t, dir, "greetings.yaml", yamlBatch)

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Name != "greetings" || b.Source != path {
		t.Fatalf("unexpected batch header: %q %q", b.Name, b.Source)
	}

	reqs, err := b.Expand()
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}

	add := reqs[0]
	if add.ID != "add" || add.Type != models.OperationAddTemplate {
		t.Fatalf("unexpected first request: %+v", add)
	}
	if add.Payload.Template == nil || add.Payload.Template.Name != "Farewell" {
		t.Fatalf("template not decoded: %+v", add.Payload.Template)
	}

	parse := reqs[1]
	if parse.ID == "" {
		t.Fatal("expected generated id")
	}
	if parse.Payload.Content != "[common](common.lg)\n# Greeting\n- ${Welcome()}" {
		t.Fatalf("content file not loaded: %q", parse.Payload.Content)
	}
	want := []models.Document{{ID: "common", Content: "# Welcome\n- hi"}}
	if diff := cmp.Diff(want, parse.Payload.LGFiles); diff != "" {
		t.Fatalf("lgFiles mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadJSONCBatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cleanup.jsonc", `{
  // remove two templates in one go
  "requests": [
    {"id": "rm", "type": "removeAllTemplates", "payload": {"content": "# A\n- a", "templateNames": ["A", "B",],},},
  ],
}`)

	b, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Name != "cleanup" {
		t.Fatalf("expected name from file, got %q", b.Name)
	}

	reqs, err := b.Expand()
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, reqs[0].Payload.TemplateNames); diff != "" {
		t.Fatalf("template names mismatch (-want +got):\n%s", diff)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{
			name:  "no requests",
			input: `{"name": "empty", "requests": []}`,
			check: func(err error) bool { return errors.Is(err, ErrNoRequests) },
		},
		{
			name:  "missing type",
			input: `{"requests": [{"id": "a"}]}`,
			check: func(err error) bool {
				var verr *EntryValidationError
				return errors.As(err, &verr) && verr.Field == "requests" && verr.Index == 0
			},
		},
		{
			name:  "duplicate id",
			input: `{"requests": [{"id": "a", "type": "parse"}, {"id": "a", "type": "parse"}]}`,
			check: func(err error) bool {
				var verr *EntryValidationError
				return errors.As(err, &verr) && verr.Index == 1
			},
		},
		{
			name:  "document without id",
			input: `{"documents": [{"content": "# A"}], "requests": [{"type": "parse"}]}`,
			check: func(err error) bool {
				var verr *EntryValidationError
				return errors.As(err, &verr) && verr.Field == "documents"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), ".json")
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yml", "name: beta\nrequests:\n  - type: parse\n    payload: {targetId: x}\n")
	writeFile(t, dir, "a.json", `{"name": "alpha", "requests": [{"type": "parse"}]}`)
	writeFile(t, dir, "notes.txt", "ignored")

	batches, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	var names []string
	for _, b := range batches {
		names = append(names, b.Name)
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, names); diff != "" {
		t.Fatalf("batch names mismatch (-want +got):\n%s", diff)
	}

	missing, err := LoadDir(filepath.Join(dir, "missing"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("expected empty result for missing dir, got %v, %v", missing, err)
	}
}

func TestRequestsMissingContentFile(t *testing.T) {
	b := &Batch{
		Source:   filepath.Join(t.TempDir(), "batch.yaml"),
		Requests: []Entry{{Type: models.OperationParse, ContentFile: "nope.lg"}},
	}
	if _, err := b.Expand(); err == nil {
		t.Fatal("expected error for missing content file")
	}
}
