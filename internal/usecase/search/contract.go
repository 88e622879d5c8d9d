package search

import (
	"context"

	"github.com/jordnlvr/hybridkb/internal/domain/document"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
	"github.com/jordnlvr/hybridkb/internal/lexical"
	"github.com/jordnlvr/hybridkb/internal/repository/vectorindex"
	"github.com/jordnlvr/hybridkb/internal/usecase/vector"
)

// LexicalIndex is the in-memory TF-IDF index.
type LexicalIndex interface {
	Build(docs []document.Document)
	Search(query string, limit int, f filter.Expression) []lexical.Hit
	Stats() lexical.Stats
}

// VectorIndex is the semantic branch backed by the remote collection.
type VectorIndex interface {
	UpsertDocuments(ctx context.Context, docs []document.Document) (vector.UpsertResult, error)
	Prune(ctx context.Context, keep []document.Document) (int, error)
	Query(
		ctx context.Context, text string, topK int, minScore float64, filters filter.Expression,
	) ([]vectorindex.Match, error)
}
