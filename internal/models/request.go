// Package models defines the message types exchanged with the LG worker.
package models

import "strings"

// OperationKind selects the operation a request performs.
type OperationKind string

const (
	OperationParse              OperationKind = "parse"
	OperationAddTemplate        OperationKind = "addTemplate"
	OperationUpdateTemplate     OperationKind = "updateTemplate"
	OperationRemoveTemplate     OperationKind = "removeTemplate"
	OperationRemoveAllTemplates OperationKind = "removeAllTemplates"
	OperationCopyTemplate       OperationKind = "copyTemplate"
)

// OperationKinds lists every supported operation in wire order.
var OperationKinds = []OperationKind{
	OperationParse,
	OperationAddTemplate,
	OperationUpdateTemplate,
	OperationRemoveTemplate,
	OperationRemoveAllTemplates,
	OperationCopyTemplate,
}

// IsValid reports whether the kind is one of the supported operations.
func (k OperationKind) IsValid() bool {
	for _, kind := range OperationKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Request is a single operation submitted to the worker.
type Request struct {
	// ID is assigned by the caller and echoed on the response.
	// The worker never generates or deduplicates it.
	ID string `json:"id" yaml:"id"`

	// Type selects the operation and determines which payload fields are read.
	Type OperationKind `json:"type" yaml:"type"`

	// Payload carries the operation input.
	Payload Payload `json:"payload" yaml:"payload"`
}

// Payload is the union of all operation inputs. Each operation reads only
// the fields it needs; see the typed views below.
type Payload struct {
	TargetID         string     `json:"targetId,omitempty" yaml:"targetId,omitempty"`
	Content          string     `json:"content,omitempty" yaml:"content,omitempty"`
	LGFiles          []Document `json:"lgFiles,omitempty" yaml:"lgFiles,omitempty"`
	Template         *Template  `json:"template,omitempty" yaml:"template,omitempty"`
	TemplateName     string     `json:"templateName,omitempty" yaml:"templateName,omitempty"`
	TemplateNames    []string   `json:"templateNames,omitempty" yaml:"templateNames,omitempty"`
	FromTemplateName string     `json:"fromTemplateName,omitempty" yaml:"fromTemplateName,omitempty"`
	ToTemplateName   string     `json:"toTemplateName,omitempty" yaml:"toTemplateName,omitempty"`
}

// ParsePayload is the input of a parse operation.
type ParsePayload struct {
	TargetID string
	Content  string
	LGFiles  []Document
}

// AddTemplatePayload is the input of an addTemplate operation.
type AddTemplatePayload struct {
	Content  string
	Template Template
}

// UpdateTemplatePayload is the input of an updateTemplate operation.
type UpdateTemplatePayload struct {
	Content      string
	TemplateName string
	Template     Template
}

// RemoveTemplatePayload is the input of a removeTemplate operation.
type RemoveTemplatePayload struct {
	Content      string
	TemplateName string
}

// RemoveAllTemplatesPayload is the input of a removeAllTemplates operation.
type RemoveAllTemplatesPayload struct {
	Content       string
	TemplateNames []string
}

// CopyTemplatePayload is the input of a copyTemplate operation.
type CopyTemplatePayload struct {
	Content          string
	FromTemplateName string
	ToTemplateName   string
}

// Parse returns the parse view of the payload.
func (p Payload) Parse() (ParsePayload, error) {
	validation := &ValidationErrors{}
	if strings.TrimSpace(p.TargetID) == "" {
		validation.AddMessage("targetId", "targetId is required")
	}
	for i, doc := range p.LGFiles {
		if strings.TrimSpace(doc.ID) == "" {
			validation.AddMessagef("lgFiles", "lgFiles[%d] is missing an id", i)
		}
	}
	if err := validation.Err(); err != nil {
		return ParsePayload{}, err
	}
	return ParsePayload{
		TargetID: p.TargetID,
		Content:  p.Content,
		LGFiles:  p.LGFiles,
	}, nil
}

// AddTemplate returns the addTemplate view of the payload.
func (p Payload) AddTemplate() (AddTemplatePayload, error) {
	validation := &ValidationErrors{}
	requireTemplate(validation, p.Template)
	if err := validation.Err(); err != nil {
		return AddTemplatePayload{}, err
	}
	return AddTemplatePayload{Content: p.Content, Template: p.Template.Clone()}, nil
}

// UpdateTemplate returns the updateTemplate view of the payload.
func (p Payload) UpdateTemplate() (UpdateTemplatePayload, error) {
	validation := &ValidationErrors{}
	requireName(validation, "templateName", p.TemplateName)
	requireTemplate(validation, p.Template)
	if err := validation.Err(); err != nil {
		return UpdateTemplatePayload{}, err
	}
	return UpdateTemplatePayload{
		Content:      p.Content,
		TemplateName: p.TemplateName,
		Template:     p.Template.Clone(),
	}, nil
}

// RemoveTemplate returns the removeTemplate view of the payload.
func (p Payload) RemoveTemplate() (RemoveTemplatePayload, error) {
	validation := &ValidationErrors{}
	requireName(validation, "templateName", p.TemplateName)
	if err := validation.Err(); err != nil {
		return RemoveTemplatePayload{}, err
	}
	return RemoveTemplatePayload{Content: p.Content, TemplateName: p.TemplateName}, nil
}

// RemoveAllTemplates returns the removeAllTemplates view of the payload.
// An empty name list is valid and leaves the content unchanged.
func (p Payload) RemoveAllTemplates() (RemoveAllTemplatesPayload, error) {
	validation := &ValidationErrors{}
	for i, name := range p.TemplateNames {
		if strings.TrimSpace(name) == "" {
			validation.AddMessagef("templateNames", "templateNames[%d] is empty", i)
		}
	}
	if err := validation.Err(); err != nil {
		return RemoveAllTemplatesPayload{}, err
	}
	names := make([]string, len(p.TemplateNames))
	copy(names, p.TemplateNames)
	return RemoveAllTemplatesPayload{Content: p.Content, TemplateNames: names}, nil
}

// CopyTemplate returns the copyTemplate view of the payload.
func (p Payload) CopyTemplate() (CopyTemplatePayload, error) {
	validation := &ValidationErrors{}
	requireName(validation, "fromTemplateName", p.FromTemplateName)
	requireName(validation, "toTemplateName", p.ToTemplateName)
	if err := validation.Err(); err != nil {
		return CopyTemplatePayload{}, err
	}
	return CopyTemplatePayload{
		Content:          p.Content,
		FromTemplateName: p.FromTemplateName,
		ToTemplateName:   p.ToTemplateName,
	}, nil
}

func requireName(validation *ValidationErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		validation.AddMessage(field, field+" is required")
	}
}

func requireTemplate(validation *ValidationErrors, tmpl *Template) {
	if tmpl == nil {
		validation.AddMessage("template", "template is required")
		return
	}
	if strings.TrimSpace(tmpl.Name) == "" {
		validation.AddMessage("template.name", "template name is required")
	}
}
