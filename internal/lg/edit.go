package lg

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/lgworker/internal/models"
)

// Editor is the default LG editing library. Every method returns a new
// content string and never touches lines outside the affected sections,
// including their line terminators. Templates whose body contains a line
// starting with '#' are rejected, since that line would open another section.
type Editor struct{}

// AddTemplate appends tmpl to the end of content.
func (Editor) AddTemplate(content string, tmpl models.Template) (*models.EditResult, error) {
	return AddTemplate(content, tmpl)
}

// UpdateTemplate replaces the section named name with tmpl.
func (Editor) UpdateTemplate(content, name string, tmpl models.Template) (*models.EditResult, error) {
	return UpdateTemplate(content, name, tmpl)
}

// RemoveTemplate removes the section named name.
func (Editor) RemoveTemplate(content, name string) (*models.EditResult, error) {
	return RemoveTemplate(content, name)
}

// RemoveTemplates removes every section whose name is in names.
func (Editor) RemoveTemplates(content string, names []string) (*models.EditResult, error) {
	return RemoveTemplates(content, names)
}

// CopyTemplate duplicates from as a new template named to.
func (Editor) CopyTemplate(content, from, to string) (*models.EditResult, error) {
	return CopyTemplate(content, from, to)
}

// AddTemplate appends tmpl after the last section, separated by a blank line.
// Adding a name that already exists fails with ErrTemplateExists.
func AddTemplate(content string, tmpl models.Template) (*models.EditResult, error) {
	doc := scan(content)
	if err := checkTemplate("add", tmpl); err != nil {
		return nil, err
	}
	if doc.has(tmpl.Name) {
		return nil, &OperationError{Op: "add", Template: tmpl.Name, Err: ErrTemplateExists}
	}
	return result(appendSection(doc, tmpl)), nil
}

// UpdateTemplate replaces the header and body of the section named name,
// keeping the blank lines that separate it from the next section. A missing
// name leaves content unchanged. Renaming onto another existing template
// fails with ErrTemplateExists.
func UpdateTemplate(content, name string, tmpl models.Template) (*models.EditResult, error) {
	doc := scan(content)
	matches := doc.find(name)
	if len(matches) == 0 {
		return unchanged(content, doc), nil
	}
	if err := checkTemplate("update", tmpl); err != nil {
		return nil, err
	}
	if tmpl.Name != name && doc.has(tmpl.Name) {
		return nil, &OperationError{Op: "update", Template: tmpl.Name, Err: ErrTemplateExists}
	}

	s := doc.sections[matches[0]]
	out := newRewrite(doc)
	out.keep(0, s.headerLine)
	out.insert(formatTemplate(tmpl)...)
	out.keep(s.bodyEnd, len(doc.lines))
	return result(out), nil
}

// RemoveTemplate removes every section named name. A missing name leaves
// content unchanged, so the operation is idempotent.
func RemoveTemplate(content, name string) (*models.EditResult, error) {
	return RemoveTemplates(content, []string{name})
}

// RemoveTemplates removes every section whose name appears in names. The
// result depends only on the set of names, not their order or repetition.
func RemoveTemplates(content string, names []string) (*models.EditResult, error) {
	doc := scan(content)
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}

	removed := make([]bool, len(doc.lines))
	changed := false
	for _, s := range doc.sections {
		if _, ok := drop[s.name]; !ok {
			continue
		}
		for i := s.headerLine; i < s.end; i++ {
			removed[i] = true
		}
		changed = true
	}
	if !changed {
		return unchanged(content, doc), nil
	}

	out := newRewrite(doc)
	for i := range doc.lines {
		if !removed[i] {
			out.keep(i, i+1)
		}
	}
	if removed[len(removed)-1] {
		out.trimTrailingBlank()
	}
	return result(out), nil
}

// CopyTemplate appends a template named to with the parameters and body of
// from. A missing source fails with ErrTemplateNotFound; an existing
// destination fails with ErrTemplateExists.
func CopyTemplate(content, from, to string) (*models.EditResult, error) {
	doc := scan(content)
	matches := doc.find(from)
	if len(matches) == 0 {
		return nil, &OperationError{Op: "copy", Template: from, Err: ErrTemplateNotFound}
	}
	if !validTemplateName(to) {
		return nil, &OperationError{Op: "copy", Template: to, Err: ErrInvalidTemplateName}
	}
	if doc.has(to) {
		return nil, &OperationError{Op: "copy", Template: to, Err: ErrTemplateExists}
	}

	source := doc.sections[matches[0]].template(doc.lines)
	copied := models.Template{
		Name:       to,
		Parameters: source.Parameters,
		Body:       source.Body,
	}
	if err := checkTemplate("copy", copied); err != nil {
		return nil, err
	}
	return result(appendSection(doc, copied)), nil
}

// checkTemplate rejects templates whose header or body would not scan back
// as the same single section.
func checkTemplate(op string, tmpl models.Template) error {
	if !validTemplateName(tmpl.Name) {
		return &OperationError{Op: op, Template: tmpl.Name, Err: ErrInvalidTemplateName}
	}
	for _, param := range tmpl.Parameters {
		if !templateNamePattern.MatchString(param) {
			return &OperationError{Op: op, Template: tmpl.Name, Err: fmt.Errorf("%w: %q", ErrInvalidParameter, param)}
		}
	}
	for i, line := range templateBodyLines(tmpl.Body) {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return &OperationError{Op: op, Template: tmpl.Name, Err: fmt.Errorf("%w (line %d)", ErrInvalidTemplateBody, i+1)}
		}
	}
	return nil
}

func appendSection(doc *document, tmpl models.Template) *rewrite {
	out := newRewrite(doc)
	out.keep(0, len(doc.lines))
	out.trimTrailingBlank()
	if len(out.lines) > 0 {
		out.insert("")
	}
	out.insert(formatTemplate(tmpl)...)
	return out
}

// unchanged returns the original bytes so no-op edits never normalise
// line endings.
func unchanged(content string, doc *document) *models.EditResult {
	return &models.EditResult{
		Content:   content,
		Templates: doc.templates(),
	}
}

func result(out *rewrite) *models.EditResult {
	content := out.String()
	return &models.EditResult{
		Content:   content,
		Templates: scan(content).templates(),
	}
}
