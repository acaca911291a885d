package models

import "fmt"

// Document is an LG file known to the caller.
type Document struct {
	// ID identifies the document among its siblings, e.g. "common" or "common.lg".
	ID      string `json:"id" yaml:"id"`
	Content string `json:"content" yaml:"content"`
}

// Template is a named section of an LG document.
type Template struct {
	Name       string   `json:"name" yaml:"name"`
	Parameters []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Body       string   `json:"body" yaml:"body"`
	Range      *Range   `json:"range,omitempty" yaml:"range,omitempty"`
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() Template {
	if t == nil {
		return Template{}
	}
	out := Template{Name: t.Name, Body: t.Body}
	if t.Parameters != nil {
		out.Parameters = make([]string, len(t.Parameters))
		copy(out.Parameters, t.Parameters)
	}
	if t.Range != nil {
		r := *t.Range
		out.Range = &r
	}
	return out
}

// Severity ranks a diagnostic.
type Severity string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
	SeverityHint        Severity = "hint"
)

// Position is a zero-based line/character location.
type Position struct {
	Line      int `json:"line" yaml:"line"`
	Character int `json:"character" yaml:"character"`
}

// Range spans from Start (inclusive) to End (exclusive).
type Range struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

// LineRange returns a range covering whole lines [start, end].
func LineRange(start, end int) Range {
	return Range{
		Start: Position{Line: start},
		End:   Position{Line: end + 1},
	}
}

// Diagnostic describes a problem found while parsing a document.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Range    Range    `json:"range"`
	Source   string   `json:"source,omitempty"`
}

// String formats the diagnostic as "source:line: severity: message".
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s: %s", d.Source, d.Range.Start.Line+1, d.Severity, d.Message)
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diagnostics []Diagnostic) bool {
	for _, d := range diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
