// Package vectorindex stores document vectors in a RediSearch HNSW index,
// one index per namespace.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jordnlvr/hybridkb/internal/db"
	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
)

// store is the consumer interface for the vector index (ISP).
//
//nolint:interfacebloat // repo needs hash + index + search operations
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	DelMulti(ctx context.Context, keys []string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexInfo(ctx context.Context, name string) (db.IndexInfo, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo manages vector collections.
type Repo struct {
	store store
	hnsw  HNSWConfig
	now   func() time.Time
}

// New creates a vector index repository.
func New(s store) *Repo {
	return &Repo{store: s, hnsw: HNSWConfig{M: 16, EFConstruct: 200}, now: time.Now}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// CreateCollection stores collection metadata then runs FT.CREATE.
// On FT.CREATE failure, rolls back the metadata via DEL.
func (r *Repo) CreateCollection(ctx context.Context, name string, dim int, metric db.DistanceMetric) error {
	if dim <= 0 {
		return domain.Configurationf("collection %s: dimension must be positive, got %d", name, dim)
	}
	if metric == "" {
		metric = db.DistanceCosine
	}

	meta := metaKey(name)
	exists, err := r.store.Exists(ctx, meta)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return fmt.Errorf("collection %s: %w", name, db.ErrIndexExists)
	}

	def, err := db.NewIndex(indexName(name)).
		Prefix(docPrefix(name)).
		Tag(fieldCategory).
		Tag(fieldSource).
		Tag(fieldVersion).
		Text(fieldTitle).
		VectorHNSW(db.DefaultVectorField, dim, metric, r.hnsw.M, r.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if err := r.store.HSet(ctx, meta, map[string]string{
		"dimension":  strconv.Itoa(dim),
		"metric":     string(metric),
		"created_at": strconv.FormatInt(r.now().UnixMilli(), 10),
	}); err != nil {
		return fmt.Errorf("hset collection %s: %w", name, err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		cleanupErr := r.store.Del(ctx, meta)
		return errors.Join(fmt.Errorf("create index %s: %w", name, err), cleanupErr)
	}
	return nil
}

// DescribeCollection reports whether the collection exists, is ready, and its size.
func (r *Repo) DescribeCollection(ctx context.Context, name string) (CollectionInfo, error) {
	info, err := r.store.IndexInfo(ctx, indexName(name))
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return CollectionInfo{}, nil
		}
		return CollectionInfo{}, fmt.Errorf("describe collection %s: %w", name, err)
	}

	meta, err := r.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("hgetall collection %s: %w", name, err)
	}

	dim := info.VectorDim
	if d, err := strconv.Atoi(meta["dimension"]); err == nil && d > 0 {
		dim = d
	}
	metric := db.DistanceCosine
	if m, ok := db.ParseDistanceMetric(meta["metric"]); ok {
		metric = m
	}

	return CollectionInfo{
		Exists:    true,
		Ready:     !info.Indexing && info.PercentIndexed >= 1,
		Dimension: dim,
		Count:     info.NumDocs,
		Metric:    metric,
	}, nil
}

// Upsert writes records in one pipeline. Writing the same id twice overwrites it.
func (r *Repo) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	prefix := docPrefix(name)
	items := make([]db.HashSetItem, len(records))
	for i := range records {
		items[i] = db.HashSetItem{
			Key:    prefix + records[i].ID,
			Fields: buildHashFields(&records[i]),
		}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert %d records into %s: %w", len(records), name, err)
	}
	return nil
}

// Query returns the topK nearest records, pre-filtered by tag equality.
func (r *Repo) Query(
	ctx context.Context, name string, vector []float32, topK int, filters filter.Expression,
) ([]Match, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(name),
		VectorField:  db.DefaultVectorField,
		Filters:      filters,
		Vector:       vector,
		K:            topK,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", name, err)
	}
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	prefix := docPrefix(name)
	matches := make([]Match, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		matches = append(matches, Match{
			ID:       strings.TrimPrefix(e.Key, prefix),
			Score:    e.Score,
			Metadata: parseMetadata(e.Fields),
		})
	}
	return matches, nil
}

// DeleteAll removes every record of the collection but keeps the index.
// Returns the number of keys deleted.
func (r *Repo) DeleteAll(ctx context.Context, name string) (int, error) {
	return r.DeleteExcept(ctx, name, nil)
}

// DeleteExcept removes every record whose id is not in keep.
// Returns the number of keys deleted.
func (r *Repo) DeleteExcept(ctx context.Context, name string, keep map[string]struct{}) (int, error) {
	prefix := docPrefix(name)
	keys, err := r.store.Scan(ctx, prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", name, err)
	}
	keys = slices.DeleteFunc(keys, func(k string) bool {
		_, ok := keep[strings.TrimPrefix(k, prefix)]
		return ok
	})
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.store.DelMulti(ctx, keys)
	if err != nil {
		return n, fmt.Errorf("delete %d records from %s: %w", len(keys), name, err)
	}
	return n, nil
}

// Key patterns: hybridkb:{ns}:meta, hybridkb:{ns}:idx, hybridkb:{ns}:doc:{id}

func metaKey(name string) string {
	return fmt.Sprintf("%s%s:meta", domain.KeyPrefix, name)
}

func indexName(name string) string {
	return fmt.Sprintf("%s%s:idx", domain.KeyPrefix, name)
}

func docPrefix(name string) string {
	return fmt.Sprintf("%s%s:doc:", domain.KeyPrefix, name)
}
