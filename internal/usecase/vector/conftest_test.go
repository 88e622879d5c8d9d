package vector

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/db"
	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/document"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
	"github.com/jordnlvr/hybridkb/internal/repository/embcache"
	"github.com/jordnlvr/hybridkb/internal/repository/vectorindex"
	"github.com/jordnlvr/hybridkb/internal/retry"
)

const testDim = 3

// mockRepo implements IndexRepository for tests.
type mockRepo struct {
	createFn   func(ctx context.Context, name string, dim int, metric db.DistanceMetric) error
	describeFn func(ctx context.Context, name string) (vectorindex.CollectionInfo, error)
	upsertFn   func(ctx context.Context, name string, records []vectorindex.Record) error
	queryFn    func(ctx context.Context, name string, vector []float32, topK int, f filter.Expression) ([]vectorindex.Match, error)
	deleteFn   func(ctx context.Context, name string) (int, error)
	exceptFn   func(ctx context.Context, name string, keep map[string]struct{}) (int, error)
}

func (m *mockRepo) CreateCollection(ctx context.Context, name string, dim int, metric db.DistanceMetric) error {
	if m.createFn != nil {
		return m.createFn(ctx, name, dim, metric)
	}
	return nil
}

func (m *mockRepo) DescribeCollection(ctx context.Context, name string) (vectorindex.CollectionInfo, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, name)
	}
	return vectorindex.CollectionInfo{Exists: true, Ready: true, Dimension: testDim}, nil
}

func (m *mockRepo) Upsert(ctx context.Context, name string, records []vectorindex.Record) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, name, records)
	}
	return nil
}

func (m *mockRepo) Query(
	ctx context.Context, name string, vector []float32, topK int, f filter.Expression,
) ([]vectorindex.Match, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, name, vector, topK, f)
	}
	return nil, nil
}

func (m *mockRepo) DeleteAll(ctx context.Context, name string) (int, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, name)
	}
	return 0, nil
}

func (m *mockRepo) DeleteExcept(ctx context.Context, name string, keep map[string]struct{}) (int, error) {
	if m.exceptFn != nil {
		return m.exceptFn(ctx, name, keep)
	}
	return 0, nil
}

// fakeEmbedder stands in for the provider chain.
type fakeEmbedder struct {
	mu         sync.Mutex
	dim        int
	batchSize  int
	required   int
	embeds     int
	batches    int
	batchErrFn func(texts []string) error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dim: testDim, batchSize: 2}
}

func (f *fakeEmbedder) Mode() provider.Mode { return provider.OpenAI }
func (f *fakeEmbedder) Revision() string    { return "" }
func (f *fakeEmbedder) Dimension() int      { return f.dim }
func (f *fakeEmbedder) BatchSize() int      { return f.batchSize }

func (f *fakeEmbedder) RequireDimension(dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.required = dim
	if dim != f.dim {
		return domain.NewDimensionMismatch(dim, f.dim)
	}
	return nil
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.Embedding, error) {
	f.mu.Lock()
	f.embeds++
	f.mu.Unlock()
	return domain.NewEmbedding(vectorFor(text, f.dim), provider.OpenAI), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.batchErrFn != nil {
		if err := f.batchErrFn(texts); err != nil {
			return nil, err
		}
	}
	out := make([]domain.Embedding, len(texts))
	for i, t := range texts {
		out[i] = domain.NewEmbedding(vectorFor(t, f.dim), provider.OpenAI)
	}
	return out, nil
}

func (f *fakeEmbedder) embedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeds
}

func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	v[0] = float32(len(text))
	return v
}

func containsAny(texts []string, sub string) bool {
	for _, t := range texts {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		Namespace:        "kb",
		Owned:            true,
		ReadinessTimeout: 200 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		UpsertBatchSize:  2,
		Concurrency:      2,
		Retry:            retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}
}

func newTestClient(t *testing.T, repo IndexRepository, emb Embedder, cfg Config) (*Client, *embcache.Cache) {
	t.Helper()
	cache, err := embcache.New(embcache.Config{Capacity: 16, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("embcache.New: %v", err)
	}
	c, err := New(repo, emb, cache, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c, cache
}

func mustDoc(t *testing.T, title, content string) document.Document {
	t.Helper()
	d, err := document.New("", title, content, "microflows", "docs", "10")
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	return d
}
