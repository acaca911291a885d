package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Extensions lists the batch file extensions LoadDir picks up.
var Extensions = []string{".yaml", ".yml", ".json", ".jsonc"}

// Load reads a single batch from disk. The format follows the extension:
// YAML for .yaml/.yml, JSON with comments and trailing commas otherwise.
func Load(path string) (*Batch, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("batch path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", path, err)
	}

	b, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	b.Source = path
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return b, nil
}

// LoadDir loads all batches from a directory, sorted by name.
func LoadDir(dir string) ([]*Batch, error) {
	if strings.TrimSpace(dir) == "" {
		return []*Batch{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Batch{}, nil
		}
		return nil, fmt.Errorf("read batch dir %s: %w", dir, err)
	}

	batches := make([]*Batch, 0)
	for _, entry := range entries {
		if entry.IsDir() || !isBatchFile(entry.Name()) {
			continue
		}
		b, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].Name < batches[j].Name
	})
	return batches, nil
}

// Parse decodes a batch. ext selects the format.
func Parse(data []byte, ext string) (*Batch, error) {
	var b Batch
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &b); err != nil {
			return nil, err
		}
	}

	b.Name = strings.TrimSpace(b.Name)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func isBatchFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, candidate := range Extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}
