package vector

import (
	"context"

	"github.com/jordnlvr/hybridkb/internal/db"
	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
	"github.com/jordnlvr/hybridkb/internal/repository/embcache"
	"github.com/jordnlvr/hybridkb/internal/repository/vectorindex"
)

// IndexRepository is the remote vector-index service.
type IndexRepository interface {
	CreateCollection(ctx context.Context, name string, dim int, metric db.DistanceMetric) error
	DescribeCollection(ctx context.Context, name string) (vectorindex.CollectionInfo, error)
	Upsert(ctx context.Context, name string, records []vectorindex.Record) error
	Query(
		ctx context.Context, name string, vector []float32, topK int, filters filter.Expression,
	) ([]vectorindex.Match, error)
	DeleteAll(ctx context.Context, name string) (int, error)
	DeleteExcept(ctx context.Context, name string, keep map[string]struct{}) (int, error)
}

// Embedder is the provider chain as seen by the client.
type Embedder interface {
	Mode() provider.Mode
	// Revision is non-empty when the vector space follows local state.
	Revision() string
	Dimension() int
	BatchSize() int
	RequireDimension(dim int) error
	Embed(ctx context.Context, text string) (domain.Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error)
}

// QueryCache holds query embeddings keyed by normalized text and provider mode.
type QueryCache interface {
	Get(key string) ([]float32, bool)
	Add(key string, vec []float32)
	Stats() embcache.Stats
}
