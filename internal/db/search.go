package db

import "github.com/jordnlvr/hybridkb/internal/domain/search/filter"

// DefaultVectorField is the hash field holding the embedding blob.
const DefaultVectorField = "vector"

// KNNQuery is the input for vector similarity search.
// An empty filter expression means "no pre-filter".
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
