package lg

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opencode-ai/lgworker/internal/models"
)

// maxImportDepth bounds how far nested imports are followed.
const maxImportDepth = 16

var referencePattern = regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\(`)

// builtinFunctions are expression functions that must not be reported as
// unknown template references.
var builtinFunctions = map[string]struct{}{
	"add": {}, "and": {}, "bool": {}, "coalesce": {}, "concat": {}, "contains": {},
	"count": {}, "countWord": {}, "createArray": {}, "div": {}, "empty": {}, "endsWith": {},
	"equals": {}, "exists": {}, "first": {}, "float": {}, "formatDateTime": {}, "formatNumber": {},
	"if": {}, "indexOf": {}, "int": {}, "join": {}, "json": {}, "last": {},
	"length": {}, "lower": {}, "max": {}, "min": {}, "mod": {}, "mul": {},
	"not": {}, "or": {}, "replace": {}, "select": {}, "sentenceCase": {}, "split": {},
	"startsWith": {}, "string": {}, "sub": {}, "substring": {}, "sum": {}, "titleCase": {},
	"toLower": {}, "toUpper": {}, "trim": {}, "union": {}, "upper": {}, "utcNow": {},
	"where": {}, "activityAttachment": {}, "expandText": {}, "fromFile": {}, "isTemplate": {}, "template": {},
}

// Parser is the default LG parser.
type Parser struct{}

// Parse implements the dispatcher's parser contract.
func (Parser) Parse(content, targetID string, resolver ImportResolver) (*models.ParseResult, error) {
	return Parse(content, targetID, resolver)
}

// Parse scans content into templates and diagnostics. Problems in the
// document are reported as diagnostics; only a resolver failure other than
// ErrImportNotFound aborts the parse with a *ParseError.
func Parse(content, targetID string, resolver ImportResolver) (*models.ParseResult, error) {
	doc := scan(content)
	p := &parseState{
		doc:      doc,
		targetID: targetID,
		resolver: resolver,
		known:    make(map[string]struct{}),
	}

	p.checkStray()
	p.checkSections()
	if err := p.resolveImports(); err != nil {
		return nil, &ParseError{TargetID: targetID, Err: err}
	}
	p.checkReferences()

	sort.SliceStable(p.diagnostics, func(i, j int) bool {
		return p.diagnostics[i].Range.Start.Line < p.diagnostics[j].Range.Start.Line
	})

	diagnostics := p.diagnostics
	if diagnostics == nil {
		diagnostics = []models.Diagnostic{}
	}
	return &models.ParseResult{
		ID:          targetID,
		Content:     content,
		Templates:   doc.templates(),
		Diagnostics: diagnostics,
	}, nil
}

type parseState struct {
	doc         *document
	targetID    string
	resolver    ImportResolver
	known       map[string]struct{}
	diagnostics []models.Diagnostic
}

func (p *parseState) report(severity models.Severity, line int, format string, args ...any) {
	width := 0
	if line >= 0 && line < len(p.doc.lines) {
		width = len(p.doc.lines[line])
	}
	p.diagnostics = append(p.diagnostics, models.Diagnostic{
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
		Range: models.Range{
			Start: models.Position{Line: line},
			End:   models.Position{Line: line, Character: width},
		},
		Source: p.targetID,
	})
}

func (p *parseState) checkStray() {
	for _, line := range p.doc.stray {
		p.report(models.SeverityError, line, "unexpected content outside of a template: %q", strings.TrimSpace(p.doc.lines[line]))
	}
}

func (p *parseState) checkSections() {
	seen := make(map[string]int)
	for _, s := range p.doc.sections {
		switch {
		case s.name == "":
			p.report(models.SeverityError, s.headerLine, "template name is missing")
			continue
		case !validTemplateName(s.name):
			p.report(models.SeverityError, s.headerLine, "invalid template name %q", s.name)
			continue
		case s.headerErr != "":
			p.report(models.SeverityError, s.headerLine, "template %q: %s", s.name, s.headerErr)
			continue
		}

		if first, dup := seen[s.name]; dup {
			p.report(models.SeverityError, s.headerLine, "duplicate template name %q (first defined on line %d)", s.name, first+1)
		} else {
			seen[s.name] = s.headerLine
		}
		p.known[s.name] = struct{}{}

		if s.bodyEnd == s.headerLine+1 {
			p.report(models.SeverityWarning, s.headerLine, "template %q has no body", s.name)
		}
	}
}

// resolveImports follows imports transitively, collecting imported template
// names so references to them are not reported.
func (p *parseState) resolveImports() error {
	visited := map[string]struct{}{normalizeID(p.targetID, DefaultExtension): {}}

	for _, ref := range p.doc.imports {
		if p.resolver == nil {
			p.report(models.SeverityError, ref.line, "unable to resolve import %q: no import resolver", ref.path)
			continue
		}
		imported, err := p.resolver(p.targetID, ref.path)
		if err != nil {
			if errors.Is(err, ErrImportNotFound) {
				p.report(models.SeverityError, ref.line, "unable to resolve import %q", ref.path)
				continue
			}
			return err
		}
		if err := p.follow(imported, ref, visited, 1); err != nil {
			return err
		}
	}
	return nil
}

func (p *parseState) follow(imported models.Document, ref importRef, visited map[string]struct{}, depth int) error {
	key := normalizeID(imported.ID, DefaultExtension)
	if _, ok := visited[key]; ok {
		return nil
	}
	visited[key] = struct{}{}

	nested := scan(imported.Content)
	for _, tmpl := range nested.templates() {
		p.known[tmpl.Name] = struct{}{}
	}
	if depth >= maxImportDepth {
		p.report(models.SeverityWarning, ref.line, "import %q: nesting deeper than %d imports is ignored", ref.path, maxImportDepth)
		return nil
	}

	for _, inner := range nested.imports {
		next, err := p.resolver(imported.ID, inner.path)
		if err != nil {
			if errors.Is(err, ErrImportNotFound) {
				p.report(models.SeverityError, ref.line, "import %q: unable to resolve nested import %q", ref.path, inner.path)
				continue
			}
			return err
		}
		if err := p.follow(next, ref, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (p *parseState) checkReferences() {
	for _, s := range p.doc.sections {
		if s.name == "" || !validTemplateName(s.name) {
			continue
		}
		for offset, line := range s.bodyLines(p.doc.lines) {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, ">") {
				continue
			}
			for _, match := range referencePattern.FindAllStringSubmatch(line, -1) {
				name := match[1]
				if _, ok := p.known[name]; ok {
					continue
				}
				if _, ok := builtinFunctions[name]; ok {
					continue
				}
				p.report(models.SeverityWarning, s.headerLine+1+offset, "template %q references unknown template %q", s.name, name)
			}
		}
	}
}
