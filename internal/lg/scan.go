// Package lg implements the LG document collaborators used by the worker:
// a section scanner, a parser that reports diagnostics, an import resolver
// factory, and a text-level editing library.
package lg

import (
	"regexp"
	"strings"

	"github.com/opencode-ai/lgworker/internal/models"
)

var (
	templateNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)
	importPattern       = regexp.MustCompile(`^\[([^\]\r\n]*)\]\(([^()\r\n]*)\)$`)
)

// section is a template definition located in a scanned document.
type section struct {
	name       string
	params     []string
	headerErr  string
	headerLine int
	// bodyEnd is one past the last non-blank body line.
	bodyEnd int
	// end is one past the last line owned by the section, trailing blanks included.
	end int
}

func (s section) bodyLines(lines []string) []string {
	return lines[s.headerLine+1 : s.bodyEnd]
}

func (s section) template(lines []string) models.Template {
	tmpl := models.Template{
		Name: s.name,
		Body: strings.Join(s.bodyLines(lines), "\n"),
	}
	if len(s.params) > 0 {
		tmpl.Parameters = append([]string(nil), s.params...)
	}
	last := s.bodyEnd - 1
	if last < s.headerLine {
		last = s.headerLine
	}
	r := models.LineRange(s.headerLine, last)
	tmpl.Range = &r
	return tmpl
}

type importRef struct {
	label string
	path  string
	line  int
}

// document is the line-level structure of an LG file. It keeps the original
// lines and their terminators so edits can rewrite one section and leave
// every other byte alone.
type document struct {
	lines []string
	// eols holds the terminator read after each line: "\n", "\r\n", or ""
	// for a final unterminated line.
	eols []string
	// newline terminates inserted lines; it follows the first line ending in
	// the file.
	newline         string
	trailingNewline bool

	sections []section
	imports  []importRef
	// stray holds lines outside any template that are not blank, comments,
	// options, or imports.
	stray []int
}

func scan(content string) *document {
	doc := &document{newline: "\n"}
	doc.lines, doc.eols = splitLines(content)
	doc.trailingNewline = strings.HasSuffix(content, "\n")
	for _, eol := range doc.eols {
		if eol != "" {
			doc.newline = eol
			break
		}
	}

	current := -1
	for i, line := range doc.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if current >= 0 {
				doc.closeSection(current, i)
			}
			doc.sections = append(doc.sections, parseHeader(trimmed, i))
			current = len(doc.sections) - 1
			continue
		}
		if current >= 0 {
			continue
		}
		switch {
		case trimmed == "", strings.HasPrefix(trimmed, ">"):
		case importPattern.MatchString(trimmed):
			match := importPattern.FindStringSubmatch(trimmed)
			doc.imports = append(doc.imports, importRef{
				label: strings.TrimSpace(match[1]),
				path:  strings.TrimSpace(match[2]),
				line:  i,
			})
		default:
			doc.stray = append(doc.stray, i)
		}
	}
	if current >= 0 {
		doc.closeSection(current, len(doc.lines))
	}
	return doc
}

// splitLines splits content into lines without terminators, recording the
// terminator of each line.
func splitLines(content string) (lines, eols []string) {
	for content != "" {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, content)
			eols = append(eols, "")
			break
		}
		line, eol := content[:i], "\n"
		if strings.HasSuffix(line, "\r") {
			line, eol = line[:len(line)-1], "\r\n"
		}
		lines = append(lines, line)
		eols = append(eols, eol)
		content = content[i+1:]
	}
	return lines, eols
}

func (d *document) closeSection(idx, end int) {
	s := &d.sections[idx]
	s.end = end
	s.bodyEnd = end
	for s.bodyEnd > s.headerLine+1 && strings.TrimSpace(d.lines[s.bodyEnd-1]) == "" {
		s.bodyEnd--
	}
}

func parseHeader(trimmed string, line int) section {
	s := section{headerLine: line}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))

	open := strings.Index(rest, "(")
	if open < 0 {
		s.name = rest
		return s
	}
	s.name = strings.TrimSpace(rest[:open])
	closeIdx := strings.LastIndex(rest, ")")
	if closeIdx < open || strings.TrimSpace(rest[closeIdx+1:]) != "" {
		s.headerErr = "malformed parameter list"
		return s
	}
	for _, p := range strings.Split(rest[open+1:closeIdx], ",") {
		if p = strings.TrimSpace(p); p != "" {
			s.params = append(s.params, p)
		}
	}
	return s
}

func validTemplateName(name string) bool {
	return templateNamePattern.MatchString(name)
}

// find returns the indexes of every section with the given name.
func (d *document) find(name string) []int {
	var out []int
	for i, s := range d.sections {
		if s.name == name {
			out = append(out, i)
		}
	}
	return out
}

func (d *document) has(name string) bool {
	return len(d.find(name)) > 0
}

// templates lists the sections with a usable name, in document order.
func (d *document) templates() []models.Template {
	out := make([]models.Template, 0, len(d.sections))
	for _, s := range d.sections {
		if !validTemplateName(s.name) || s.headerErr != "" {
			continue
		}
		out = append(out, s.template(d.lines))
	}
	return out
}

// rewrite accumulates the lines of an edited document. Kept lines carry
// their original terminator; inserted lines take the document's newline.
type rewrite struct {
	doc   *document
	lines []string
	eols  []string
}

func newRewrite(doc *document) *rewrite {
	return &rewrite{
		doc:   doc,
		lines: make([]string, 0, len(doc.lines)+8),
		eols:  make([]string, 0, len(doc.lines)+8),
	}
}

// keep copies original lines [from, to).
func (r *rewrite) keep(from, to int) {
	r.lines = append(r.lines, r.doc.lines[from:to]...)
	r.eols = append(r.eols, r.doc.eols[from:to]...)
}

func (r *rewrite) insert(lines ...string) {
	for _, line := range lines {
		r.lines = append(r.lines, line)
		r.eols = append(r.eols, "")
	}
}

func (r *rewrite) trimTrailingBlank() {
	n := len(r.lines)
	for n > 0 && strings.TrimSpace(r.lines[n-1]) == "" {
		n--
	}
	r.lines, r.eols = r.lines[:n], r.eols[:n]
}

// String renders the lines. Whether the result ends in a newline follows
// the original document.
func (r *rewrite) String() string {
	var b strings.Builder
	last := len(r.lines) - 1
	for i, line := range r.lines {
		b.WriteString(line)
		eol := r.eols[i]
		switch {
		case i < last && eol == "":
			eol = r.doc.newline
		case i == last && !r.doc.trailingNewline:
			eol = ""
		case i == last && eol == "":
			eol = r.doc.newline
		}
		b.WriteString(eol)
	}
	return b.String()
}

// formatTemplate renders a template as header plus body lines.
func formatTemplate(tmpl models.Template) []string {
	header := "# " + tmpl.Name
	if len(tmpl.Parameters) > 0 {
		header += "(" + strings.Join(tmpl.Parameters, ", ") + ")"
	}
	lines := []string{header}

	return append(lines, templateBodyLines(tmpl.Body)...)
}

// templateBodyLines splits a template body into lines, dropping trailing
// whitespace and blank lines.
func templateBodyLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.TrimRight(body, " \t\r\n")
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}
