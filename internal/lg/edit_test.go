package lg

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opencode-ai/lgworker/internal/models"
)

const greetingDoc = "# Greeting\n- Hello"

func templateNames(templates []models.Template) []string {
	names := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		names = append(names, tmpl.Name)
	}
	return names
}

func TestAddTemplateAppendsSection(t *testing.T) {
	res, err := AddTemplate(greetingDoc, models.Template{Name: "Farewell", Body: "- Bye"})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}

	want := "# Greeting\n- Hello\n\n# Farewell\n- Bye"
	if res.Content != want {
		t.Fatalf("content mismatch (-want +got):\n%s", cmp.Diff(want, res.Content))
	}
	if diff := cmp.Diff([]string{"Greeting", "Farewell"}, templateNames(res.Templates)); diff != "" {
		t.Fatalf("templates mismatch (-want +got):\n%s", diff)
	}
}

func TestAddTemplateToEmptyDocument(t *testing.T) {
	res, err := AddTemplate("", models.Template{Name: "Ask", Parameters: []string{"who"}, Body: "- Hi ${who}"})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if res.Content != "# Ask(who)\n- Hi ${who}" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestAddTemplateRejectsDuplicateAndInvalidNames(t *testing.T) {
	_, err := AddTemplate(greetingDoc, models.Template{Name: "Greeting", Body: "- again"})
	if !errors.Is(err, ErrTemplateExists) {
		t.Fatalf("expected ErrTemplateExists, got %v", err)
	}

	_, err = AddTemplate(greetingDoc, models.Template{Name: "bad name", Body: "- x"})
	if !errors.Is(err, ErrInvalidTemplateName) {
		t.Fatalf("expected ErrInvalidTemplateName, got %v", err)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Op != "add" {
		t.Fatalf("expected *OperationError for add, got %T", err)
	}
}

func TestUpdateTemplateReplacesOnlyTargetSection(t *testing.T) {
	content := "# Greeting\n- Hello\n- Howdy\n\n# Farewell\n- Bye\n"
	res, err := UpdateTemplate(content, "Greeting", models.Template{Name: "Greeting", Body: "- Hi there"})
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}

	want := "# Greeting\n- Hi there\n\n# Farewell\n- Bye\n"
	if res.Content != want {
		t.Fatalf("content mismatch (-want +got):\n%s", cmp.Diff(want, res.Content))
	}
}

func TestUpdateTemplateMissingNameIsNoop(t *testing.T) {
	content := "# Greeting\r\n- Hello\n"
	res, err := UpdateTemplate(content, "Missing", models.Template{Name: "Missing", Body: "- x"})
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if res.Content != content {
		t.Fatalf("expected unchanged content, got %q", res.Content)
	}
}

func TestUpdateTemplateRenameConflict(t *testing.T) {
	content := "# A\n- a\n\n# B\n- b"
	_, err := UpdateTemplate(content, "A", models.Template{Name: "B", Body: "- x"})
	if !errors.Is(err, ErrTemplateExists) {
		t.Fatalf("expected ErrTemplateExists, got %v", err)
	}

	res, err := UpdateTemplate(content, "A", models.Template{Name: "C", Parameters: []string{"x"}, Body: "- ${x}"})
	if err != nil {
		t.Fatalf("UpdateTemplate rename: %v", err)
	}
	if res.Content != "# C(x)\n- ${x}\n\n# B\n- b" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestRemoveTemplateIdempotent(t *testing.T) {
	content := "# A\n- a\n\n# B\n- b\n\n# C\n- c\n"

	missing, err := RemoveTemplate(content, "Z")
	if err != nil {
		t.Fatalf("RemoveTemplate missing: %v", err)
	}
	if missing.Content != content {
		t.Fatalf("expected unchanged content, got %q", missing.Content)
	}

	once, err := RemoveTemplate(content, "B")
	if err != nil {
		t.Fatalf("RemoveTemplate: %v", err)
	}
	twice, err := RemoveTemplate(once.Content, "B")
	if err != nil {
		t.Fatalf("RemoveTemplate twice: %v", err)
	}

	if once.Content != "# A\n- a\n\n# C\n- c\n" {
		t.Fatalf("unexpected content: %q", once.Content)
	}
	if once.Content != twice.Content {
		t.Fatalf("remove not idempotent:\n%s", cmp.Diff(once.Content, twice.Content))
	}
}

func TestRemoveLastTemplateTrimsSeparator(t *testing.T) {
	res, err := RemoveTemplate("# A\n- a\n\n# B\n- b", "B")
	if err != nil {
		t.Fatalf("RemoveTemplate: %v", err)
	}
	if res.Content != "# A\n- a" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestRemoveTemplatesOrderIndependent(t *testing.T) {
	content := "> header\n# A\n- a\n\n# B\n- b\n\n# C\n- c\n\n# D\n- d\n"

	orders := [][]string{
		{"A", "C"},
		{"C", "A"},
		{"C", "A", "C", "missing"},
	}

	var first string
	for i, names := range orders {
		res, err := RemoveTemplates(content, names)
		if err != nil {
			t.Fatalf("RemoveTemplates(%v): %v", names, err)
		}
		if i == 0 {
			first = res.Content
			continue
		}
		if res.Content != first {
			t.Fatalf("order %v produced different content:\n%s", names, cmp.Diff(first, res.Content))
		}
	}

	if first != "> header\n# B\n- b\n\n# D\n- d\n" {
		t.Fatalf("unexpected content: %q", first)
	}
}

func TestCopyTemplate(t *testing.T) {
	content := "# Ask(name)\n- Hi ${name}\n- Hello ${name}"
	res, err := CopyTemplate(content, "Ask", "AskAgain")
	if err != nil {
		t.Fatalf("CopyTemplate: %v", err)
	}

	want := []models.Template{
		{Name: "Ask", Parameters: []string{"name"}, Body: "- Hi ${name}\n- Hello ${name}"},
		{Name: "AskAgain", Parameters: []string{"name"}, Body: "- Hi ${name}\n- Hello ${name}"},
	}
	ignoreRange := cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".Range" }, cmp.Ignore())
	if diff := cmp.Diff(want, res.Templates, ignoreRange); diff != "" {
		t.Fatalf("templates mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyTemplateErrors(t *testing.T) {
	_, err := CopyTemplate(greetingDoc, "Missing", "Other")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}

	_, err = CopyTemplate("# A\n- a\n# B\n- b", "A", "B")
	if !errors.Is(err, ErrTemplateExists) {
		t.Fatalf("expected ErrTemplateExists, got %v", err)
	}
}

func TestEditsPreserveCRLF(t *testing.T) {
	content := "# A\r\n- a\r\n"
	res, err := AddTemplate(content, models.Template{Name: "B", Body: "- b"})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if res.Content != "# A\r\n- a\r\n\r\n# B\r\n- b\r\n" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
	if strings.Count(res.Content, "\r\n") != strings.Count(res.Content, "\n") {
		t.Fatalf("mixed line endings in %q", res.Content)
	}
}

func TestEditsRejectHeaderLinesInBody(t *testing.T) {
	content := "# Greeting\n- Hello\n\n# Other\n- x\n"
	bodies := []string{
		"- Bye\n# Greeting\n- again",
		"- Hi\n# Other",
		"  # Indented",
		"#NoSpace",
	}

	for _, body := range bodies {
		_, err := AddTemplate(content, models.Template{Name: "Farewell", Body: body})
		if !errors.Is(err, ErrInvalidTemplateBody) {
			t.Errorf("AddTemplate(%q): expected ErrInvalidTemplateBody, got %v", body, err)
		}
		var opErr *OperationError
		if !errors.As(err, &opErr) || opErr.Op != "add" {
			t.Errorf("AddTemplate(%q): expected add OperationError, got %v", body, err)
		}

		_, err = UpdateTemplate(content, "Greeting", models.Template{Name: "Greeting", Body: body})
		if !errors.Is(err, ErrInvalidTemplateBody) {
			t.Errorf("UpdateTemplate(%q): expected ErrInvalidTemplateBody, got %v", body, err)
		}
	}

	res, err := AddTemplate(content, models.Template{Name: "Tagged", Body: "- price is ${n} #1\n> # a comment"})
	if err != nil {
		t.Fatalf("'#' inside a line should be accepted: %v", err)
	}
	if diff := cmp.Diff([]string{"Greeting", "Other", "Tagged"}, templateNames(res.Templates)); diff != "" {
		t.Fatalf("templates mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTemplateLeavesOtherSectionsIntact(t *testing.T) {
	content := "# Greeting\n- Hello\n\n# Other\n- x\n\n# Last(p)\n- ${p}\n"
	before := scan(content)
	others := make(map[string]models.Template)
	for _, tmpl := range before.templates() {
		if tmpl.Name != "Greeting" {
			tmpl.Range = nil
			others[tmpl.Name] = tmpl
		}
	}

	bodies := []string{
		"- Hi",
		"- Hi\n# Other",
		"- Hi\n\n# Last(q)\n- ${q}",
		"- Hi\n  #Greeting",
		"",
		"- a\n- b\n- c",
	}
	for _, body := range bodies {
		res, err := UpdateTemplate(content, "Greeting", models.Template{Name: "Greeting", Body: body})
		if err != nil {
			if !errors.Is(err, ErrInvalidTemplateBody) {
				t.Fatalf("UpdateTemplate(%q): unexpected error %v", body, err)
			}
			continue
		}

		got := make(map[string]models.Template)
		for _, tmpl := range res.Templates {
			if tmpl.Name == "Greeting" {
				continue
			}
			if _, dup := got[tmpl.Name]; dup {
				t.Fatalf("UpdateTemplate(%q): duplicate template %q", body, tmpl.Name)
			}
			tmpl.Range = nil
			got[tmpl.Name] = tmpl
		}
		if diff := cmp.Diff(others, got); diff != "" {
			t.Fatalf("UpdateTemplate(%q) changed other sections (-want +got):\n%s", body, diff)
		}
	}
}

func TestEditsRejectInvalidParameters(t *testing.T) {
	for _, param := range []string{"a)", "", "a b", "x,y"} {
		tmpl := models.Template{Name: "P", Parameters: []string{"ok", param}, Body: "- p"}

		if _, err := AddTemplate(greetingDoc, tmpl); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("AddTemplate(%q): expected ErrInvalidParameter, got %v", param, err)
		}
		tmpl.Name = "Greeting"
		if _, err := UpdateTemplate(greetingDoc, "Greeting", tmpl); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("UpdateTemplate(%q): expected ErrInvalidParameter, got %v", param, err)
		}
	}
}

func TestEditsPreserveMixedLineEndings(t *testing.T) {
	content := "# A\r\n- a\n\n# B\r\n- b\n"

	res, err := UpdateTemplate(content, "B", models.Template{Name: "B", Body: "- bb"})
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if !strings.HasPrefix(res.Content, "# A\r\n- a\n\n") {
		t.Fatalf("untouched section rewritten: %q", res.Content)
	}

	res, err = RemoveTemplate(content, "A")
	if err != nil {
		t.Fatalf("RemoveTemplate: %v", err)
	}
	if res.Content != "# B\r\n- b\n" {
		t.Fatalf("unexpected content after remove: %q", res.Content)
	}

	res, err = AddTemplate(content, models.Template{Name: "C", Body: "- c"})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if !strings.HasPrefix(res.Content, content) {
		t.Fatalf("existing lines rewritten: %q", res.Content)
	}
}
