// Package source reads document files (YAML or JSON) into domain documents.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/document"
)

// Entry is one document as written in a source file.
type Entry struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Content  string `yaml:"content"`
	Category string `yaml:"category"`
	Source   string `yaml:"source"`
	Version  string `yaml:"version"`
}

type file struct {
	Documents []Entry `yaml:"documents"`
}

// LoadFile reads a document file. Entries without a source get the file name.
// Invalid entries are skipped and reported in the joined error next to the valid documents.
func LoadFile(path string) ([]document.Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read documents %s: %w", path, err)
	}
	return Parse(data, filepath.Base(path))
}

// Parse decodes either a top-level list of entries or a mapping with a documents key.
// JSON input parses the same way.
func Parse(data []byte, origin string) ([]document.Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse documents %s: %w", domain.ErrValidation, origin, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var entries []Entry
	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&entries); err != nil {
			return nil, fmt.Errorf("%w: decode documents %s: %w", domain.ErrValidation, origin, err)
		}
	case yaml.MappingNode:
		var f file
		if err := node.Decode(&f); err != nil {
			return nil, fmt.Errorf("%w: decode documents %s: %w", domain.ErrValidation, origin, err)
		}
		entries = f.Documents
	default:
		return nil, fmt.Errorf("%w: documents %s: expected a list or a documents key", domain.ErrValidation, origin)
	}

	docs := make([]document.Document, 0, len(entries))
	var errs []error
	for i, e := range entries {
		src := e.Source
		if src == "" {
			src = origin
		}
		doc, err := document.New(e.ID, e.Title, e.Content, e.Category, src, e.Version)
		if err != nil {
			ref := e.ID
			if ref == "" {
				ref = fmt.Sprintf("%s#%d", origin, i)
			}
			errs = append(errs, domain.NewValidation(ref, err.Error()))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}
