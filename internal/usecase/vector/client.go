// Package vector indexes documents into the remote vector collection and
// answers nearest-neighbour queries with cached query embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/db"
	"github.com/jordnlvr/hybridkb/internal/domain"
	dombatch "github.com/jordnlvr/hybridkb/internal/domain/batch"
	"github.com/jordnlvr/hybridkb/internal/domain/document"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
	"github.com/jordnlvr/hybridkb/internal/metrics"
	"github.com/jordnlvr/hybridkb/internal/repository/embcache"
	"github.com/jordnlvr/hybridkb/internal/repository/vectorindex"
	"github.com/jordnlvr/hybridkb/internal/retry"
)

// Client defaults.
const (
	DefaultReadinessTimeout = 60 * time.Second
	DefaultPollInterval     = time.Second
	DefaultMinContentChars  = 10
	DefaultUpsertBatchSize  = 100
	DefaultConcurrency      = 3
)

// Config configures the vector client.
type Config struct {
	Namespace string
	// Owned allows the client to create the collection when it is missing.
	Owned            bool
	ReadinessTimeout time.Duration
	PollInterval     time.Duration
	MinContentChars  int
	UpsertBatchSize  int
	// Concurrency caps embedding and upsert batches in flight.
	Concurrency int
	Retry       retry.Policy
}

func (c *Config) applyDefaults() {
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = DefaultReadinessTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MinContentChars <= 0 {
		c.MinContentChars = DefaultMinContentChars
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = DefaultUpsertBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
}

// UpsertResult summarizes one UpsertDocuments call.
// Items holds one entry per input document, in input order.
type UpsertResult struct {
	Indexed int
	Skipped int
	Items   []dombatch.Result
}

// Stats describes the collection and the query cache.
type Stats struct {
	VectorCount int
	Dimension   int
	Mode        provider.Mode
	Ready       bool
	Cache       embcache.Stats
}

// Client owns the lifecycle of one vector collection.
type Client struct {
	repo   IndexRepository
	embed  Embedder
	cache  QueryCache
	cfg    Config
	pool   *ants.Pool
	logger *zap.Logger

	readyMu sync.Mutex
	ready   bool
}

// New creates a vector client. Close releases its worker pool.
func New(repo IndexRepository, embed Embedder, cache QueryCache, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Namespace == "" {
		return nil, domain.Configurationf("vector namespace is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Client{
		repo:   repo,
		embed:  embed,
		cache:  cache,
		cfg:    cfg,
		pool:   pool,
		logger: logger.With(zap.String("namespace", cfg.Namespace)),
	}, nil
}

// Close releases the worker pool.
func (c *Client) Close() {
	c.pool.Release()
}

// EnsureReady prepares the collection on first use. A failed attempt is
// retried on the next call.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()

	if c.ready {
		return nil
	}
	if err := c.prepare(ctx); err != nil {
		return err
	}
	c.ready = true
	return nil
}

func (c *Client) prepare(ctx context.Context) error {
	info, err := c.describe(ctx)
	if err != nil {
		return err
	}

	if info.Exists {
		if err := c.embed.RequireDimension(info.Dimension); err != nil {
			return fmt.Errorf("collection %s: %w", c.cfg.Namespace, err)
		}
		if info.Ready {
			return nil
		}
		return c.waitReady(ctx)
	}

	if !c.cfg.Owned {
		return domain.Configurationf("collection %s does not exist and is not owned by this client", c.cfg.Namespace)
	}

	dim := c.embed.Dimension()
	err = c.repo.CreateCollection(ctx, c.cfg.Namespace, dim, db.DistanceCosine)
	switch {
	case errors.Is(err, db.ErrIndexExists):
		// created concurrently by another client
	case err != nil:
		return fmt.Errorf("create collection %s: %w", c.cfg.Namespace, err)
	default:
		c.logger.Info("Vector collection created", zap.Int("dimension", dim), zap.String("mode", string(c.embed.Mode())))
	}

	if err := c.embed.RequireDimension(dim); err != nil {
		return fmt.Errorf("collection %s: %w", c.cfg.Namespace, err)
	}
	return c.waitReady(ctx)
}

// waitReady polls the collection until it reports ready or ReadinessTimeout passes.
func (c *Client) waitReady(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadinessTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		info, err := c.describe(waitCtx)
		if err == nil && info.Ready {
			return nil
		}
		if err != nil && ctx.Err() == nil && waitCtx.Err() == nil {
			c.logger.Warn("Readiness poll failed", zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck // caller cancellation passes through
			}
			return fmt.Errorf("%w: collection %s after %s", domain.ErrIndexNotReady, c.cfg.Namespace, c.cfg.ReadinessTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) describe(ctx context.Context) (vectorindex.CollectionInfo, error) {
	info, err := retry.Value(ctx, c.policy("describe"), func(ctx context.Context) (vectorindex.CollectionInfo, error) {
		info, err := c.repo.DescribeCollection(ctx, c.cfg.Namespace)
		return info, permanent(err)
	})
	if err != nil {
		return vectorindex.CollectionInfo{}, fmt.Errorf("describe collection %s: %w: %w",
			c.cfg.Namespace, domain.ErrProviderUnavailable, err)
	}
	return info, nil
}

// UpsertDocuments embeds and stores documents. Short documents and batches whose
// embedding is unavailable are skipped; a configuration error aborts the call.
// The returned error joins the failures of upsert batches.
func (c *Client) UpsertDocuments(ctx context.Context, docs []document.Document) (UpsertResult, error) {
	if len(docs) == 0 {
		return UpsertResult{}, nil
	}
	if err := c.EnsureReady(ctx); err != nil {
		return UpsertResult{}, err
	}

	items := make([]dombatch.Result, len(docs))
	valid := c.validate(docs, items)

	records, err := c.embedDocuments(ctx, docs, valid, items)
	if err != nil {
		return summarize(items), err
	}

	upsertErr := c.upsertRecords(ctx, records, items)

	res := summarize(items)
	metrics.VectorDocumentsTotal.WithLabelValues(string(dombatch.StatusIndexed)).Add(float64(res.Indexed))
	metrics.VectorDocumentsTotal.WithLabelValues(string(dombatch.StatusSkipped)).Add(float64(res.Skipped))
	c.logger.Info("Documents upserted", zap.Int("indexed", res.Indexed), zap.Int("skipped", res.Skipped))
	return res, upsertErr
}

// validate marks invalid and duplicate documents as skipped and returns
// the positions of the documents to embed.
func (c *Client) validate(docs []document.Document, items []dombatch.Result) []int {
	seen := make(map[string]bool, len(docs))
	valid := make([]int, 0, len(docs))

	for i := range docs {
		id := docs[i].ID()
		if n := utf8.RuneCountInString(strings.TrimSpace(docs[i].Content())); n < c.cfg.MinContentChars {
			err := domain.NewValidation(id, fmt.Sprintf("content has %d characters, need at least %d", n, c.cfg.MinContentChars))
			c.logger.Warn("Document skipped", zap.String("id", id), zap.Error(err))
			items[i] = dombatch.NewSkipped(id, err)
			continue
		}
		if seen[id] {
			items[i] = dombatch.NewSkipped(id, domain.NewValidation(id, "duplicate id in batch"))
			continue
		}
		seen[id] = true
		valid = append(valid, i)
	}
	return valid
}

// embedDocuments embeds valid documents in provider-sized batches, concurrently.
// Records carry the position of their source document.
func (c *Client) embedDocuments(
	ctx context.Context, docs []document.Document, valid []int, items []dombatch.Result,
) ([]positioned, error) {
	batches := slices.Collect(slices.Chunk(valid, c.embed.BatchSize()))
	out := make([][]positioned, len(batches))
	errs := make([]error, len(batches))

	embedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.run(len(batches), func(b int) {
		texts := make([]string, len(batches[b]))
		for j, i := range batches[b] {
			texts[j] = docs[i].Text()
		}

		embs, err := c.embed.EmbedBatch(embedCtx, texts)
		if errors.Is(err, domain.ErrValidation) && len(texts) > 1 {
			out[b], errs[b] = c.embedEach(embedCtx, docs, batches[b], items)
			return
		}
		if err != nil {
			errs[b] = err
			if errors.Is(err, domain.ErrConfiguration) {
				cancel()
			}
			return
		}

		recs := make([]positioned, len(embs))
		for j, i := range batches[b] {
			recs[j] = positioned{pos: i, record: toRecord(&docs[i], embs[j].Vector)}
		}
		out[b] = recs
	})

	var records []positioned
	var fatal []error
	for b, err := range errs {
		if err == nil {
			records = append(records, out[b]...)
			continue
		}
		for _, i := range batches[b] {
			items[i] = dombatch.NewSkipped(docs[i].ID(), err)
		}
		switch {
		case errors.Is(err, domain.ErrConfiguration):
			return nil, fmt.Errorf("embed batch: %w", err)
		case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrValidation):
			c.logger.Warn("Embedding batch skipped", zap.Int("batch", b), zap.Int("size", len(batches[b])), zap.Error(err))
		default:
			fatal = append(fatal, fmt.Errorf("embed batch %d: %w", b, err))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // caller cancellation passes through
	}
	if len(fatal) > 0 {
		return nil, errors.Join(fatal...)
	}
	return records, nil
}

// embedEach embeds a batch one document at a time, so a text the provider
// rejects is skipped without its neighbours.
func (c *Client) embedEach(
	ctx context.Context, docs []document.Document, batch []int, items []dombatch.Result,
) ([]positioned, error) {
	recs := make([]positioned, 0, len(batch))
	for _, i := range batch {
		emb, err := c.embed.Embed(ctx, docs[i].Text())
		switch {
		case err == nil:
			recs = append(recs, positioned{pos: i, record: toRecord(&docs[i], emb.Vector)})
		case errors.Is(err, domain.ErrValidation):
			c.logger.Warn("Document skipped", zap.String("id", docs[i].ID()), zap.Error(err))
			items[i] = dombatch.NewSkipped(docs[i].ID(), err)
		default:
			return nil, err
		}
	}
	return recs, nil
}

// upsertRecords writes records in fixed-size batches, each retried on its own.
func (c *Client) upsertRecords(ctx context.Context, records []positioned, items []dombatch.Result) error {
	batches := slices.Collect(slices.Chunk(records, c.cfg.UpsertBatchSize))
	errs := make([]error, len(batches))

	c.run(len(batches), func(b int) {
		recs := make([]vectorindex.Record, len(batches[b]))
		for j := range batches[b] {
			recs[j] = batches[b][j].record
		}
		errs[b] = c.policy("upsert").Do(ctx, func(ctx context.Context) error {
			return permanent(c.repo.Upsert(ctx, c.cfg.Namespace, recs))
		})
	})

	var failed []error
	for b, err := range errs {
		for _, p := range batches[b] {
			if err != nil {
				items[p.pos] = dombatch.NewSkipped(p.record.ID, err)
			} else {
				items[p.pos] = dombatch.NewIndexed(p.record.ID)
			}
		}
		if err != nil {
			c.logger.Warn("Upsert batch failed", zap.Int("batch", b), zap.Int("size", len(batches[b])), zap.Error(err))
			failed = append(failed, fmt.Errorf("upsert batch %d: %w: %w", b, domain.ErrProviderUnavailable, err))
		}
	}
	return errors.Join(failed...)
}

// run executes fn for 0..n-1 on the worker pool and waits for all of them.
func (c *Client) run(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			fn(i)
		})
		if err != nil {
			// pool released or overloaded: run inline
			fn(i)
			wg.Done()
		}
	}
	wg.Wait()
}

// Query embeds text (through the cache) and returns matches scoring at least minScore.
func (c *Client) Query(
	ctx context.Context, text string, topK int, minScore float64, filters filter.Expression,
) ([]vectorindex.Match, error) {
	norm := embcache.Normalize(text)
	if norm == "" || topK <= 0 {
		return nil, nil
	}
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}

	vec, err := c.queryVector(ctx, norm)
	if err != nil {
		return nil, err
	}

	matches, err := retry.Value(ctx, c.policy("query"), func(ctx context.Context) ([]vectorindex.Match, error) {
		matches, err := c.repo.Query(ctx, c.cfg.Namespace, vec, topK, filters)
		return matches, permanent(err)
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w: %w", c.cfg.Namespace, domain.ErrProviderUnavailable, err)
	}

	if minScore > 0 {
		matches = slices.DeleteFunc(matches, func(m vectorindex.Match) bool { return m.Score < minScore })
	}
	return matches, nil
}

func (c *Client) queryVector(ctx context.Context, norm string) ([]float32, error) {
	key := embcache.RevisionKey(norm, c.embed.Mode(), c.embed.Revision())
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	emb, err := c.embed.Embed(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	c.cache.Add(key, emb.Vector)
	return emb.Vector, nil
}

// Stats reports the collection size and cache counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Dimension: c.embed.Dimension(), Mode: c.embed.Mode(), Cache: c.cache.Stats()}

	info, err := c.describe(ctx)
	if err != nil {
		return st, err
	}
	st.VectorCount = info.Count
	st.Ready = info.Exists && info.Ready
	if info.Dimension > 0 {
		st.Dimension = info.Dimension
	}
	return st, nil
}

// Clear deletes every vector of the collection. The collection itself stays.
func (c *Client) Clear(ctx context.Context) error {
	n, err := retry.Value(ctx, c.policy("clear"), func(ctx context.Context) (int, error) {
		return c.repo.DeleteAll(ctx, c.cfg.Namespace)
	})
	if err != nil {
		return fmt.Errorf("clear collection %s: %w", c.cfg.Namespace, err)
	}
	c.logger.Info("Vector collection cleared", zap.Int("deleted", n))
	return nil
}

// Prune deletes the vectors of documents that are not in keep, so a rebuild
// drops what the corpus no longer contains.
func (c *Client) Prune(ctx context.Context, keep []document.Document) (int, error) {
	ids := make(map[string]struct{}, len(keep))
	for i := range keep {
		ids[keep[i].ID()] = struct{}{}
	}
	n, err := retry.Value(ctx, c.policy("prune"), func(ctx context.Context) (int, error) {
		return c.repo.DeleteExcept(ctx, c.cfg.Namespace, ids)
	})
	if err != nil {
		return n, fmt.Errorf("prune collection %s: %w", c.cfg.Namespace, err)
	}
	if n > 0 {
		c.logger.Info("Stale vectors pruned", zap.Int("deleted", n))
	}
	return n, nil
}

func (c *Client) policy(op string) retry.Policy {
	p := c.cfg.Retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.VectorRetriesTotal.WithLabelValues(op).Inc()
		c.logger.Warn("Retrying vector index call",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return p
}

// permanent stops retries for failures another attempt cannot fix.
func permanent(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrIndexNotFound),
		errors.Is(err, db.ErrQueryRejected),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrValidation):
		return retry.Permanent(err)
	}
	return err
}

type positioned struct {
	pos    int
	record vectorindex.Record
}

func toRecord(d *document.Document, vec []float32) vectorindex.Record {
	return vectorindex.Record{
		ID:     d.ID(),
		Vector: vec,
		Metadata: vectorindex.Metadata{
			Title:    d.Title(),
			Category: d.Category(),
			Source:   d.Source(),
			Version:  d.Version(),
			Preview:  d.Content(),
		},
	}
}

func summarize(items []dombatch.Result) UpsertResult {
	res := UpsertResult{Items: items}
	res.Indexed, res.Skipped = dombatch.Counts(items)
	return res
}
