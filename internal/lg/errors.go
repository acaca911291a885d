package lg

import (
	"errors"
	"fmt"
)

// LG errors.
var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrTemplateExists      = errors.New("template already exists")
	ErrInvalidTemplateName = errors.New("invalid template name")
	ErrInvalidParameter    = errors.New("invalid template parameter")
	ErrInvalidTemplateBody = errors.New("template body line starts with '#'")
	ErrImportNotFound      = errors.New("import not found")
	ErrAmbiguousImport     = errors.New("ambiguous import")
)

// ParseError is returned when a document cannot be parsed at all, as opposed
// to problems reported through diagnostics.
type ParseError struct {
	TargetID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.TargetID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// OperationError is returned by the editing functions.
type OperationError struct {
	Op       string
	Template string
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Template, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
