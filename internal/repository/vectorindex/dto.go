package vectorindex

import (
	"encoding/binary"
	"math"

	"github.com/jordnlvr/hybridkb/internal/db"
	"github.com/jordnlvr/hybridkb/internal/domain"
)

// Metadata bounds applied on write.
const (
	MaxTitleRunes   = 200
	MaxPreviewRunes = 300
)

// Hash field names of a stored record.
const (
	fieldTitle    = "title"
	fieldCategory = "category"
	fieldSource   = "source"
	fieldVersion  = "version"
	fieldPreview  = "preview"
)

var returnFields = []string{fieldTitle, fieldCategory, fieldSource, fieldVersion, fieldPreview}

// Metadata is stored next to each vector and returned with matches.
type Metadata struct {
	Title    string
	Category string
	Source   string
	Version  string
	Preview  string
}

// Record is one vector to upsert, keyed by document id.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is one nearest-neighbour hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// CollectionInfo describes the remote collection.
type CollectionInfo struct {
	Exists    bool
	Ready     bool
	Dimension int
	Count     int
	Metric    db.DistanceMetric
}

// buildHashFields converts a record into a flat map for HSET.
func buildHashFields(r *Record) map[string]string {
	return map[string]string{
		fieldTitle:            domain.Truncate(r.Metadata.Title, MaxTitleRunes),
		fieldCategory:         r.Metadata.Category,
		fieldSource:           r.Metadata.Source,
		fieldVersion:          r.Metadata.Version,
		fieldPreview:          domain.Truncate(r.Metadata.Preview, MaxPreviewRunes),
		db.DefaultVectorField: vectorToBytes(r.Vector),
	}
}

// parseMetadata reads metadata fields returned by a search.
func parseMetadata(m map[string]string) Metadata {
	return Metadata{
		Title:    m[fieldTitle],
		Category: m[fieldCategory],
		Source:   m[fieldSource],
		Version:  m[fieldVersion],
		Preview:  m[fieldPreview],
	}
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
