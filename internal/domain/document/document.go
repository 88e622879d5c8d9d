package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxContentSize is the maximum document content size in bytes.
const MaxContentSize = 163840 // 160KB

// idHexLen is the length of a derived id: 128 bits of SHA-256 in hex.
const idHexLen = 32

// Document is the indexed unit (immutable value object).
type Document struct {
	id       string
	title    string
	content  string
	category string
	source   string
	version  string
}

// New validates and creates a Document. An empty id is derived from the content via ContentID.
// Title or content must be non-empty; content is capped at MaxContentSize.
func New(id, title, content, category, source, version string) (Document, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
		return Document{}, fmt.Errorf("title or content is required")
	}
	if len(content) > MaxContentSize {
		return Document{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}
	if id == "" {
		id = ContentID(title, content, category)
	}
	if len(id) > 256 {
		return Document{}, fmt.Errorf("document ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Document{}, fmt.Errorf("document ID must be alphanumeric with '_', '.', ':' and '-'")
	}

	return Document{
		id:       id,
		title:    title,
		content:  content,
		category: category,
		source:   source,
		version:  version,
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id, title, content, category, source, version string) Document {
	return Document{id: id, title: title, content: content, category: category, source: source, version: version}
}

// ContentID derives a stable id from normalized title, content and category.
// Identical inputs always produce the same id, so re-indexing is idempotent.
func ContentID(title, content, category string) string {
	h := sha256.New()
	h.Write([]byte(normalize(title)))
	h.Write([]byte{0x1f})
	h.Write([]byte(normalize(content)))
	h.Write([]byte{0x1f})
	h.Write([]byte(normalize(category)))
	return hex.EncodeToString(h.Sum(nil))[:idHexLen]
}

// normalize lowercases, trims and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Title returns the document title.
func (d *Document) Title() string { return d.title }

// Content returns the document text content.
func (d *Document) Content() string { return d.content }

// Category returns the document category.
func (d *Document) Category() string { return d.category }

// Source returns where the document came from.
func (d *Document) Source() string { return d.source }

// Version returns the product version the document applies to.
func (d *Document) Version() string { return d.version }

// Text joins title and content, the form that gets tokenized and embedded.
func (d *Document) Text() string {
	switch {
	case d.title == "":
		return d.content
	case d.content == "":
		return d.title
	default:
		return d.title + "\n\n" + d.content
	}
}

// Metadata returns the filterable tag fields keyed by name. Empty values are omitted.
func (d *Document) Metadata() map[string]string {
	m := make(map[string]string, 3)
	if d.category != "" {
		m["category"] = d.category
	}
	if d.source != "" {
		m["source"] = d.source
	}
	if d.version != "" {
		m["version"] = d.version
	}
	return m
}
