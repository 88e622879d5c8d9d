// Package hybridkb is a hybrid knowledge retrieval engine. It ranks documents
// with an in-memory TF-IDF index and a Redis vector index, then fuses both
// rankings with reciprocal rank fusion.
package hybridkb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/config"
	"github.com/jordnlvr/hybridkb/internal/db"
	dbRedis "github.com/jordnlvr/hybridkb/internal/db/redis"
	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/document"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
	"github.com/jordnlvr/hybridkb/internal/domain/search/request"
	domusage "github.com/jordnlvr/hybridkb/internal/domain/usage"
	"github.com/jordnlvr/hybridkb/internal/lexical"
	budgetrepo "github.com/jordnlvr/hybridkb/internal/repository/budget"
	"github.com/jordnlvr/hybridkb/internal/repository/embcache"
	"github.com/jordnlvr/hybridkb/internal/repository/vectorindex"
	"github.com/jordnlvr/hybridkb/internal/retry"
	openaiEmb "github.com/jordnlvr/hybridkb/internal/transport/openai"
	embeddinguc "github.com/jordnlvr/hybridkb/internal/usecase/embedding"
	healthuc "github.com/jordnlvr/hybridkb/internal/usecase/health"
	searchuc "github.com/jordnlvr/hybridkb/internal/usecase/search"
	usageuc "github.com/jordnlvr/hybridkb/internal/usecase/usage"
	vectoruc "github.com/jordnlvr/hybridkb/internal/usecase/vector"
)

const (
	storeReadyTimeout = 10 * time.Second
	localBatchSize    = 64
)

// Engine owns every component of the retrieval pipeline.
type Engine struct {
	store   db.Store
	lexical *lexical.Index
	chain   *embeddinguc.Chain
	cache   *embcache.Cache
	badger  *embcache.BadgerPersister
	vector  *vectoruc.Client

	search *searchuc.Service
	health *healthuc.Service
	usage  *usageuc.Service

	limits request.Limits
	logger *zap.Logger
}

// New wires the engine from configuration. With the vector store disabled the
// engine answers from the lexical index alone.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		lexical: lexical.NewIndex(),
		limits:  request.Limits{Default: cfg.Search.DefaultLimit, Max: cfg.Search.MaxLimit},
		logger:  logger,
	}

	var (
		vec      searchuc.VectorIndex
		pinger   healthuc.DBPinger
		checker  healthuc.EmbeddingChecker
		trackers []usageuc.BudgetReader
	)
	if cfg.Vector.IsEnabled() {
		var err error
		trackers, err = e.wireVector(ctx, cfg)
		if err != nil {
			_ = e.release()
			return nil, err
		}
		vec, pinger, checker = e.vector, e.store, e.chain
	} else {
		logger.Info("Vector branch disabled, serving lexical results only")
	}

	search, err := searchuc.New(e.lexical, vec, searchuc.Config{
		Weights:             searchuc.Weights{Lexical: cfg.Search.LexicalWeight, Vector: cfg.Search.VectorWeight},
		RRFK:                cfg.Search.RRFK,
		BranchTimeout:       cfg.Search.BranchTimeout(),
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		MinScore:            cfg.Search.MinScore,
	}, logger)
	if err != nil {
		_ = e.release()
		return nil, err
	}
	e.search = search
	e.health = healthuc.New(pinger, checker, e.lexical)
	e.usage = usageuc.New(trackers...)

	return e, nil
}

// wireVector connects the store and builds the embedding chain, the query cache
// and the vector client. It returns the budget trackers of the remote providers.
func (e *Engine) wireVector(ctx context.Context, cfg *config.Config) ([]usageuc.BudgetReader, error) {
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:      cfg.Vector.Addrs,
		Username:   cfg.Vector.Username,
		Password:   cfg.Vector.Password,
		ClientName: "hybridkb",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create redis store: %w", domain.ErrProviderUnavailable, err)
	}
	e.store = store
	if err := store.WaitForReady(ctx, storeReadyTimeout); err != nil {
		return nil, fmt.Errorf("%w: vector store not ready: %w", domain.ErrProviderUnavailable, err)
	}
	e.logger.Info("Connected to vector store", zap.Strings("addrs", cfg.Vector.Addrs))

	budgetStore := budgetrepo.New(store, budgetrepo.DefaultDailyTTL, budgetrepo.DefaultMonthlyTTL)
	azure, azureBudget, err := e.remoteProvider(ctx, cfg, provider.AzureOpenAI, budgetStore)
	if err != nil {
		return nil, err
	}
	oai, oaiBudget, err := e.remoteProvider(ctx, cfg, provider.OpenAI, budgetStore)
	if err != nil {
		return nil, err
	}
	local := lexical.NewVectorizer(e.lexical, cfg.Embedding.Local.Dimension)

	chain, err := embeddinguc.NewChain(e.logger, azure, oai, embeddinguc.Provider{
		Mode:      provider.Local,
		Dimension: local.Dimension(),
		BatchSize: localBatchSize,
		Available: cfg.Embedding.Local.IsEnabled(),
		Embedder:  local,
	})
	if err != nil {
		return nil, err
	}
	e.chain = chain

	persister, err := e.cachePersister(cfg)
	if err != nil {
		return nil, err
	}
	cache, err := embcache.New(embcache.Config{
		Capacity:  cfg.Cache.Capacity,
		SaveEvery: cfg.Cache.SaveEvery,
		Persister: persister,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	e.cache = cache
	if n := cache.Load(ctx); n > 0 {
		e.logger.Info("Query cache restored", zap.Int("entries", n))
	}

	repo := vectorindex.New(store).WithHNSW(vectorindex.HNSWConfig{
		M:           cfg.Vector.HNSWM,
		EFConstruct: cfg.Vector.HNSWEFConstruct,
	})
	client, err := vectoruc.New(repo, chain, cache, vectoruc.Config{
		Namespace:        cfg.Vector.Namespace,
		Owned:            cfg.Vector.Owned,
		ReadinessTimeout: cfg.Vector.ReadinessTimeout(),
		MinContentChars:  cfg.Vector.MinContentChars,
		UpsertBatchSize:  cfg.Vector.UpsertBatchSize,
		Concurrency:      cfg.Embedding.Concurrency,
		Retry: retry.Policy{
			MaxAttempts: cfg.Vector.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Vector.Retry.BaseDelayMs) * time.Millisecond,
			MaxJitter:   time.Duration(cfg.Vector.Retry.MaxJitterMs) * time.Millisecond,
		},
	}, e.logger)
	if err != nil {
		return nil, err
	}
	e.vector = client

	var readers []usageuc.BudgetReader
	for _, b := range []*embeddinguc.BudgetTracker{azureBudget, oaiBudget} {
		if b != nil {
			readers = append(readers, b)
		}
	}
	return readers, nil
}

// remoteProvider builds one remote provider wrapped with its budget tracker.
// The tracker is nil when the provider has no credentials.
func (e *Engine) remoteProvider(
	ctx context.Context, cfg *config.Config, mode provider.Mode, store embeddinguc.BudgetStore,
) (embeddinguc.Provider, *embeddinguc.BudgetTracker, error) {
	tc := &openaiEmb.Config{
		Mode:          mode,
		MaxInputChars: cfg.Embedding.MaxInputChars,
		Timeout:       cfg.Embedding.RequestTimeout(),
		Logger:        e.logger,
	}
	var budget config.BudgetConfig
	switch mode {
	case provider.AzureOpenAI:
		az := cfg.Embedding.AzureOpenAI
		tc.APIKey, tc.Endpoint, tc.Deployment, tc.APIVersion = az.APIKey, az.Endpoint, az.Deployment, az.APIVersion
		tc.Dimensions, tc.BatchSize = az.Dimensions, az.BatchSize
		budget = az.Budget
	default:
		oa := cfg.Embedding.OpenAI
		tc.APIKey, tc.BaseURL, tc.Model = oa.APIKey, oa.BaseURL, oa.Model
		tc.Dimensions, tc.BatchSize = oa.Dimensions, oa.BatchSize
		budget = oa.Budget
	}

	base := openaiEmb.NewEmbedder(tc)
	p := embeddinguc.Provider{
		Mode:      mode,
		Dimension: base.Dimension(),
		BatchSize: base.BatchSize(),
		Available: base.Available(),
		Embedder:  base,
	}
	if !p.Available {
		return p, nil, nil
	}

	action, err := embeddinguc.ParseBudgetAction(budget.Action)
	if err != nil {
		return p, nil, err //nolint:wrapcheck // already a configuration error
	}
	tracker := embeddinguc.NewBudgetTracker(embeddinguc.BudgetConfig{
		Provider:     mode,
		DailyLimit:   budget.DailyTokenLimit,
		MonthlyLimit: budget.MonthlyTokenLimit,
		Action:       action,
	}, e.logger).WithStore(ctx, store)

	p.Embedder = embeddinguc.NewInstrumentedEmbedder(base, mode, tracker, e.logger)
	return p, tracker, nil
}

func (e *Engine) cachePersister(cfg *config.Config) (embcache.Persister, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendFile:
		return embcache.NewFilePersister(cfg.Cache.Path), nil
	case config.CacheBackendRedis:
		return embcache.NewKVPersister(e.store, ""), nil
	case config.CacheBackendBadger:
		p, err := embcache.OpenBadgerPersister(cfg.Cache.Path, e.logger)
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		e.badger = p
		return p, nil
	default:
		return nil, nil
	}
}

// Index rebuilds the lexical index from docs and upserts them into the vector index.
func (e *Engine) Index(ctx context.Context, docs []document.Document) (IndexReport, error) {
	rep, err := e.search.Index(ctx, docs)
	out := IndexReport{
		Documents:     rep.Documents,
		Terms:         rep.Terms,
		VectorEnabled: rep.VectorEnabled,
		VectorIndexed: rep.VectorIndexed,
		VectorSkipped: rep.VectorSkipped,
		VectorPruned:  rep.VectorPruned,
	}
	if err != nil {
		return out, fmt.Errorf("index: %w", err)
	}
	return out, nil
}

// Search runs a hybrid query. Blank text returns an empty slice.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	f, err := filter.FromMap(q.Filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	req, err := request.New(q.Text, e.limits.Clamp(q.Limit), f, q.MinScore)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	fused, err := e.search.Search(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	out := make([]Result, len(fused))
	for i := range fused {
		out[i] = resultFromFused(&fused[i])
	}
	return out, nil
}

// Stats reports index sizes, the active provider and cache counters.
// A vector store failure is reported in the stats, not as an error.
func (e *Engine) Stats(ctx context.Context) Stats {
	ls := e.lexical.Stats()
	st := Stats{Documents: ls.Documents, Terms: ls.Terms}
	if !ls.BuiltAt.IsZero() {
		built := ls.BuiltAt
		st.BuiltAt = &built
	}
	if e.vector == nil {
		return st
	}

	vs, err := e.vector.Stats(ctx)
	st.Vector = &VectorStats{
		Count:     vs.VectorCount,
		Dimension: vs.Dimension,
		Provider:  string(vs.Mode),
		Fallbacks: modes(e.chain.Fallbacks()),
		Ready:     vs.Ready,
	}
	if err != nil {
		st.Vector.Error = err.Error()
	}
	c := CacheStats(vs.Cache)
	st.Cache = &c
	return st
}

// Health aggregates vector store, embedding and lexical index checks.
func (e *Engine) Health(ctx context.Context) HealthReport {
	r := e.health.Check(ctx)
	checks := make(map[string]string, len(r.Checks))
	for k, v := range r.Checks {
		checks[k] = string(v)
	}
	return HealthReport{Status: string(r.Status), Checks: checks}
}

// Usage reports token consumption per remote provider for "day" or "month".
func (e *Engine) Usage(ctx context.Context, period string) []UsageReport {
	p := domusage.PeriodMonth
	if period == string(domusage.PeriodDay) {
		p = domusage.PeriodDay
	}
	reports := e.usage.Reports(ctx, p)
	out := make([]UsageReport, len(reports))
	for i := range reports {
		out[i] = usageFromDomain(&reports[i])
	}
	return out
}

// Clear removes every vector of the namespace. The lexical index is untouched.
func (e *Engine) Clear(ctx context.Context) error {
	if e.vector == nil {
		return nil
	}
	return e.vector.Clear(ctx) //nolint:wrapcheck // client errors carry the namespace
}

// Close persists the query cache and releases the store.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save query cache: %w", err))
		}
	}
	if err := e.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes whatever New managed to open. Safe to call twice.
func (e *Engine) release() error {
	if e.vector != nil {
		e.vector.Close()
		e.vector = nil
	}
	if e.store != nil {
		e.store.Close()
		e.store = nil
	}
	if e.badger != nil {
		err := e.badger.Close()
		e.badger = nil
		if err != nil {
			return fmt.Errorf("close cache store: %w", err)
		}
	}
	return nil
}

func modes(ms []provider.Mode) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
