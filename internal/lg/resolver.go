package lg

import (
	"fmt"
	"path"
	"strings"

	"github.com/opencode-ai/lgworker/internal/models"
)

// DefaultExtension is the file extension of LG documents.
const DefaultExtension = ".lg"

// ImportResolver locates the document referenced by an import line.
// sourceID is the id of the importing document.
type ImportResolver func(sourceID, importPath string) (models.Document, error)

// ResolveImport returns a resolver scoped to documents. An import matches a
// document when their base names agree once ext is stripped from both, so
// "../common.lg", "common.lg" and "common" all resolve to a document with id
// "common" or "common.lg".
//
// A missing target yields ErrImportNotFound. More than one candidate yields
// ErrAmbiguousImport.
func ResolveImport(documents []models.Document, ext string) ImportResolver {
	docs := make([]models.Document, len(documents))
	copy(docs, documents)

	return func(sourceID, importPath string) (models.Document, error) {
		target := normalizeID(importPath, ext)
		if target == "" {
			return models.Document{}, fmt.Errorf("%w: empty import path in %s", ErrImportNotFound, sourceID)
		}

		var matches []models.Document
		for _, doc := range docs {
			if normalizeID(doc.ID, ext) == target {
				matches = append(matches, doc)
			}
		}

		switch len(matches) {
		case 0:
			return models.Document{}, fmt.Errorf("%w: %s", ErrImportNotFound, importPath)
		case 1:
			return matches[0], nil
		default:
			return models.Document{}, fmt.Errorf("%w: %s matches %d documents", ErrAmbiguousImport, importPath, len(matches))
		}
	}
}

func normalizeID(id, ext string) string {
	id = strings.TrimSpace(strings.ReplaceAll(id, `\`, "/"))
	if id == "" {
		return ""
	}
	base := path.Base(id)
	if base == "." || base == "/" {
		return ""
	}
	if ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// ResolverFactory builds import resolvers; it is the default factory used by
// the dispatcher.
type ResolverFactory struct{}

// Resolver implements the dispatcher's resolver factory contract.
func (ResolverFactory) Resolver(documents []models.Document, ext string) ImportResolver {
	return ResolveImport(documents, ext)
}
