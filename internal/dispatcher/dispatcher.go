// Package dispatcher routes LG template operations to their collaborators and
// hosts them on a message-driven worker.
package dispatcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencode-ai/lgworker/internal/lg"
	"github.com/opencode-ai/lgworker/internal/models"
)

// Dispatcher errors.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMalformedRequest = errors.New("malformed request")
	ErrNilResult        = errors.New("collaborator returned no result")
)

// ImportResolverFactory builds a resolver scoped to a document set.
type ImportResolverFactory interface {
	Resolver(documents []models.Document, ext string) lg.ImportResolver
}

// Parser turns document text into templates and diagnostics.
type Parser interface {
	Parse(content, targetID string, resolver lg.ImportResolver) (*models.ParseResult, error)
}

// Editor mutates document text one template at a time.
type Editor interface {
	AddTemplate(content string, tmpl models.Template) (*models.EditResult, error)
	UpdateTemplate(content, name string, tmpl models.Template) (*models.EditResult, error)
	RemoveTemplate(content, name string) (*models.EditResult, error)
	RemoveTemplates(content string, names []string) (*models.EditResult, error)
	CopyTemplate(content, from, to string) (*models.EditResult, error)
}

// Handler answers a single request. Dispatcher is the production Handler.
type Handler interface {
	Dispatch(req models.Request) models.Response
}

// Dispatcher routes each request to the matching collaborator and converts
// every outcome, including panics, into exactly one Response. It holds no
// state between requests and performs no I/O.
type Dispatcher struct {
	parser    Parser
	resolvers ImportResolverFactory
	editor    Editor
	extension string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithParser overrides the parser collaborator.
func WithParser(p Parser) Option {
	return func(d *Dispatcher) {
		d.parser = p
	}
}

// WithResolverFactory overrides the import resolver factory.
func WithResolverFactory(f ImportResolverFactory) Option {
	return func(d *Dispatcher) {
		d.resolvers = f
	}
}

// WithEditor overrides the editing library.
func WithEditor(e Editor) Option {
	return func(d *Dispatcher) {
		d.editor = e
	}
}

// WithImportExtension sets the extension passed to the resolver factory.
func WithImportExtension(ext string) Option {
	return func(d *Dispatcher) {
		if ext != "" {
			d.extension = ext
		}
	}
}

// New creates a Dispatcher backed by the lg package unless overridden.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		parser:    lg.Parser{},
		resolvers: lg.ResolverFactory{},
		editor:    lg.Editor{},
		extension: lg.DefaultExtension,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes req by operation kind.
func (d *Dispatcher) Dispatch(req models.Request) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = models.NewFailure(req.ID, req.Type, models.ErrorKindInternal, fmt.Errorf("%s panicked: %v", req.Type, r))
		}
	}()

	if strings.TrimSpace(req.ID) == "" {
		return models.NewFailure(req.ID, req.Type, models.ErrorKindMalformedRequest,
			fmt.Errorf("%w: request id is required", ErrMalformedRequest))
	}

	var (
		payload any
		err     error
	)
	switch req.Type {
	case models.OperationParse:
		payload, err = d.parse(req.Payload)
	case models.OperationAddTemplate:
		payload, err = d.addTemplate(req.Payload)
	case models.OperationUpdateTemplate:
		payload, err = d.updateTemplate(req.Payload)
	case models.OperationRemoveTemplate:
		payload, err = d.removeTemplate(req.Payload)
	case models.OperationRemoveAllTemplates:
		payload, err = d.removeAllTemplates(req.Payload)
	case models.OperationCopyTemplate:
		payload, err = d.copyTemplate(req.Payload)
	default:
		return models.NewFailure(req.ID, req.Type, models.ErrorKindUnknownOperation,
			fmt.Errorf("%w: %q", ErrUnknownOperation, req.Type))
	}

	if err != nil {
		return models.NewFailure(req.ID, req.Type, classify(req.Type, err), err)
	}
	return models.NewSuccess(req.ID, payload)
}

func (d *Dispatcher) parse(p models.Payload) (*models.ParseResult, error) {
	in, err := p.Parse()
	if err != nil {
		return nil, err
	}

	resolver := d.resolvers.Resolver(in.LGFiles, d.extension)
	result, err := d.parser.Parse(in.Content, in.TargetID, resolver)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &lg.ParseError{TargetID: in.TargetID, Err: ErrNilResult}
	}

	out := &models.ParseResult{
		ID:          in.TargetID,
		Content:     in.Content,
		Templates:   result.Templates,
		Diagnostics: result.Diagnostics,
	}
	if out.Templates == nil {
		out.Templates = []models.Template{}
	}
	if out.Diagnostics == nil {
		out.Diagnostics = []models.Diagnostic{}
	}
	return out, nil
}

func (d *Dispatcher) addTemplate(p models.Payload) (*models.EditResult, error) {
	in, err := p.AddTemplate()
	if err != nil {
		return nil, err
	}
	return checkEdit(d.editor.AddTemplate(in.Content, in.Template))
}

func (d *Dispatcher) updateTemplate(p models.Payload) (*models.EditResult, error) {
	in, err := p.UpdateTemplate()
	if err != nil {
		return nil, err
	}
	return checkEdit(d.editor.UpdateTemplate(in.Content, in.TemplateName, in.Template))
}

func (d *Dispatcher) removeTemplate(p models.Payload) (*models.EditResult, error) {
	in, err := p.RemoveTemplate()
	if err != nil {
		return nil, err
	}
	return checkEdit(d.editor.RemoveTemplate(in.Content, in.TemplateName))
}

func (d *Dispatcher) removeAllTemplates(p models.Payload) (*models.EditResult, error) {
	in, err := p.RemoveAllTemplates()
	if err != nil {
		return nil, err
	}
	return checkEdit(d.editor.RemoveTemplates(in.Content, in.TemplateNames))
}

func (d *Dispatcher) copyTemplate(p models.Payload) (*models.EditResult, error) {
	in, err := p.CopyTemplate()
	if err != nil {
		return nil, err
	}
	return checkEdit(d.editor.CopyTemplate(in.Content, in.FromTemplateName, in.ToTemplateName))
}

func checkEdit(result *models.EditResult, err error) (*models.EditResult, error) {
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNilResult
	}
	if result.Templates == nil {
		result.Templates = []models.Template{}
	}
	return result, nil
}

// classify maps an error to the ErrorKind reported to the caller.
func classify(op models.OperationKind, err error) models.ErrorKind {
	var validation *models.ValidationErrors
	var parseErr *lg.ParseError
	var opErr *lg.OperationError

	switch {
	case errors.As(err, &validation), errors.Is(err, ErrMalformedRequest):
		return models.ErrorKindMalformedRequest
	case errors.As(err, &parseErr):
		return models.ErrorKindParse
	case errors.As(err, &opErr):
		return models.ErrorKindOperation
	case op == models.OperationParse:
		return models.ErrorKindParse
	default:
		return models.ErrorKindOperation
	}
}
