// Package search runs the lexical and vector branches of a hybrid query
// concurrently and fuses their rankings.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/document"
	"github.com/jordnlvr/hybridkb/internal/domain/search/request"
	"github.com/jordnlvr/hybridkb/internal/domain/search/result"
	"github.com/jordnlvr/hybridkb/internal/metrics"
	"github.com/jordnlvr/hybridkb/internal/repository/vectorindex"
)

// Service defaults.
const (
	DefaultBranchTimeout       = 3 * time.Second
	DefaultCandidateMultiplier = 2
)

const (
	branchLexical = "lexical"
	branchVector  = "vector"
)

// Config tunes fusion and branch execution.
type Config struct {
	Weights Weights
	RRFK    int
	// BranchTimeout bounds each branch; a branch that exceeds it is fused as empty.
	BranchTimeout       time.Duration
	CandidateMultiplier int
	// MinScore is the default vector similarity floor when the request sets none.
	MinScore float64
}

// IndexReport summarizes an index rebuild.
type IndexReport struct {
	Documents     int
	Terms         int
	VectorEnabled bool
	VectorIndexed int
	VectorSkipped int
	VectorPruned  int
}

// Service handles hybrid search and index rebuilds.
type Service struct {
	lexical LexicalIndex
	vector  VectorIndex
	cfg     Config
	logger  *zap.Logger
}

// New creates a search service. A nil vector index runs lexical-only.
func New(lex LexicalIndex, vec VectorIndex, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, domain.Configurationf("search: %v", err)
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = DefaultBranchTimeout
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{lexical: lex, vector: vec, cfg: cfg, logger: logger}, nil
}

// VectorEnabled reports whether the semantic branch is configured.
func (s *Service) VectorEnabled() bool { return s.vector != nil }

// Search runs both branches concurrently and fuses them. A failed or timed-out
// branch is fused as empty; an error is returned only when no branch succeeded.
func (s *Service) Search(ctx context.Context, req *request.Request) ([]result.Fused, error) {
	if req.IsEmpty() {
		return []result.Fused{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}()

	candidates := req.Candidates(s.cfg.CandidateMultiplier)

	var (
		lexHits, vecHits []result.Hit
		lexErr, vecErr   error
		g                errgroup.Group
	)
	g.Go(func() error {
		lexHits, lexErr = s.branch(ctx, branchLexical, func(context.Context) ([]result.Hit, error) {
			return s.searchLexical(req, candidates), nil
		})
		return nil
	})
	if s.vector != nil {
		g.Go(func() error {
			vecHits, vecErr = s.branch(ctx, branchVector, func(ctx context.Context) ([]result.Hit, error) {
				return s.searchVector(ctx, req, candidates)
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // caller cancellation passes through
	}
	if lexErr != nil && (s.vector == nil || vecErr != nil) {
		return nil, fmt.Errorf("all search branches failed: %w", errors.Join(lexErr, vecErr))
	}

	fused := Fuse(lexHits, vecHits, s.cfg.Weights, s.cfg.RRFK)
	if len(fused) > req.Limit() {
		fused = fused[:req.Limit()]
	}
	return fused, nil
}

// branch runs fn under BranchTimeout and records latency and failures.
func (s *Service) branch(
	ctx context.Context, name string, fn func(ctx context.Context) ([]result.Hit, error),
) ([]result.Hit, error) {
	start := time.Now()
	hits, err := withTimeout(ctx, s.cfg.BranchTimeout, fn)
	metrics.SearchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil {
		return hits, nil
	}

	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	if ctx.Err() == nil {
		metrics.SearchBranchFailuresTotal.WithLabelValues(name, reason).Inc()
		s.logger.Warn("Search branch degraded", zap.String("branch", name), zap.String("reason", reason), zap.Error(err))
	}
	return nil, fmt.Errorf("%s branch: %w", name, err)
}

func (s *Service) searchLexical(req *request.Request, limit int) []result.Hit {
	found := s.lexical.Search(req.Text(), limit, req.Filters())
	hits := make([]result.Hit, len(found))
	for i, h := range found {
		d := h.Document
		hits[i] = result.NewHit(d.ID(), d.Title(), d.Category(), h.Score, d.Metadata())
	}
	return hits
}

func (s *Service) searchVector(ctx context.Context, req *request.Request, limit int) ([]result.Hit, error) {
	minScore := req.MinScore()
	if minScore == 0 {
		minScore = s.cfg.MinScore
	}

	matches, err := s.vector.Query(ctx, req.Text(), limit, minScore, req.Filters())
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by branch
	}
	hits := make([]result.Hit, len(matches))
	for i, m := range matches {
		hits[i] = result.NewHit(m.ID, m.Metadata.Title, m.Metadata.Category, m.Score, matchMetadata(m.Metadata))
	}
	return hits, nil
}

// Index rebuilds the lexical index, then upserts to the vector index when configured
// and prunes vectors of documents no longer in docs. A failed prune is only logged.
func (s *Service) Index(ctx context.Context, docs []document.Document) (IndexReport, error) {
	s.lexical.Build(docs)
	st := s.lexical.Stats()
	report := IndexReport{Documents: st.Documents, Terms: st.Terms, VectorEnabled: s.vector != nil}
	s.logger.Info("Lexical index built", zap.Int("documents", st.Documents), zap.Int("terms", st.Terms))

	if s.vector == nil {
		return report, nil
	}
	res, err := s.vector.UpsertDocuments(ctx, docs)
	report.VectorIndexed, report.VectorSkipped = res.Indexed, res.Skipped
	if err != nil {
		return report, fmt.Errorf("vector upsert: %w", err)
	}

	pruned, err := s.vector.Prune(ctx, docs)
	report.VectorPruned = pruned
	if err != nil {
		s.logger.Warn("Stale vectors not pruned", zap.Error(err))
	}
	return report, nil
}

func matchMetadata(m vectorindex.Metadata) map[string]string {
	out := make(map[string]string, 3)
	if m.Category != "" {
		out["category"] = m.Category
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	if m.Version != "" {
		out["version"] = m.Version
	}
	return out
}

// withTimeout runs fn and stops waiting for it once d elapses.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err() //nolint:wrapcheck // wrapped by branch
	}
}
