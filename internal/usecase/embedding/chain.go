package embedding

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	"github.com/jordnlvr/hybridkb/internal/metrics"
)

// Provider describes one embedding backend offered to the chain.
type Provider struct {
	Mode      provider.Mode
	Dimension int
	BatchSize int
	Available bool
	Embedder  domain.Embedder
	// Health is optional; Embedder is used when it implements domain.HealthChecker.
	Health domain.HealthChecker
}

func (p Provider) batch(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := p.Embedder.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts) //nolint:wrapcheck // wrapped by the chain
	}
	return domain.BatchFallback(ctx, p.Embedder, texts)
}

// Chain selects one active provider at construction time and falls back to
// later providers of the same dimension when it fails.
type Chain struct {
	active    Provider
	fallbacks []Provider

	mu       sync.RWMutex
	required int

	logger *zap.Logger
}

// NewChain orders candidates by provider priority, activates the first available
// one and keeps the remaining available candidates with a matching dimension as fallbacks.
func NewChain(logger *zap.Logger, candidates ...Provider) (*Chain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b Provider) int {
		return cmp.Compare(a.Mode.Rank(), b.Mode.Rank())
	})

	idx := slices.IndexFunc(ordered, func(p Provider) bool { return p.Available })
	if idx < 0 {
		return nil, domain.Configurationf("no embedding provider available")
	}
	active := ordered[idx]
	if active.Embedder == nil {
		return nil, domain.Configurationf("%s provider has no embedder", active.Mode)
	}
	if active.Dimension <= 0 {
		return nil, domain.Configurationf("%s provider has no dimension", active.Mode)
	}

	var fallbacks []Provider
	for _, p := range ordered[idx+1:] {
		if !p.Available || p.Embedder == nil {
			continue
		}
		if p.Dimension != active.Dimension {
			logger.Info("Provider excluded from fallback: dimension differs",
				zap.String("provider", string(p.Mode)),
				zap.Int("dimension", p.Dimension),
				zap.Int("active_dimension", active.Dimension),
			)
			continue
		}
		fallbacks = append(fallbacks, p)
	}

	logger.Info("Embedding provider selected",
		zap.String("provider", string(active.Mode)),
		zap.Int("dimension", active.Dimension),
		zap.Int("fallbacks", len(fallbacks)),
	)

	return &Chain{active: active, fallbacks: fallbacks, logger: logger}, nil
}

// Mode returns the active provider mode.
func (c *Chain) Mode() provider.Mode { return c.active.Mode }

// Dimension returns the active provider dimension.
func (c *Chain) Dimension() int { return c.active.Dimension }

// BatchSize returns the preferred number of texts per EmbedBatch call.
func (c *Chain) BatchSize() int {
	if c.active.BatchSize > 0 {
		return c.active.BatchSize
	}
	return 1
}

// Fallbacks lists the modes that can stand in for the active provider.
func (c *Chain) Fallbacks() []provider.Mode {
	modes := make([]provider.Mode, len(c.fallbacks))
	for i, p := range c.fallbacks {
		modes[i] = p.Mode
	}
	return modes
}

// revisioner is implemented by providers whose vector space follows local state.
type revisioner interface {
	Revision() string
}

// Revision identifies the vector space of the active provider. It is empty for
// remote providers, whose vectors never change for the same text.
func (c *Chain) Revision() string {
	if r, ok := c.active.Embedder.(revisioner); ok {
		return r.Revision()
	}
	return ""
}

// RequireDimension binds the chain to a vector namespace of the given dimension.
// Every later embedding call fails with DimensionMismatchError when it differs
// from the active provider dimension.
func (c *Chain) RequireDimension(dim int) error {
	c.mu.Lock()
	c.required = dim
	c.mu.Unlock()
	return c.checkDimension()
}

func (c *Chain) checkDimension() error {
	c.mu.RLock()
	required := c.required
	c.mu.RUnlock()
	if required > 0 && required != c.active.Dimension {
		return domain.NewDimensionMismatch(required, c.active.Dimension)
	}
	return nil
}

// Embed vectorizes a single text.
func (c *Chain) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return domain.Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch vectorizes texts with the active provider, trying each fallback once
// when it fails. Context cancellation, configuration and validation errors are
// returned without fallback.
func (c *Chain) EmbedBatch(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.checkDimension(); err != nil {
		return nil, err
	}

	out, err := c.try(ctx, c.active, texts)
	if err == nil {
		return out, nil
	}
	if !shouldFallback(ctx, err) {
		return nil, err
	}

	errs := []error{err}
	for _, fb := range c.fallbacks {
		c.logger.Warn("Embedding provider failed, trying fallback",
			zap.String("from", string(c.active.Mode)),
			zap.String("to", string(fb.Mode)),
			zap.Int("texts", len(texts)),
			zap.Error(errs[len(errs)-1]),
		)

		out, fbErr := c.try(ctx, fb, texts)
		if fbErr == nil {
			metrics.EmbeddingFallbackTotal.WithLabelValues(string(c.active.Mode), string(fb.Mode), "success").Inc()
			return out, nil
		}
		metrics.EmbeddingFallbackTotal.WithLabelValues(string(c.active.Mode), string(fb.Mode), "error").Inc()
		if !shouldFallback(ctx, fbErr) {
			return nil, fbErr
		}
		errs = append(errs, fbErr)
	}

	joined := errors.Join(errs...)
	if errors.Is(joined, domain.ErrProviderUnavailable) {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), joined)
	}
	return nil, fmt.Errorf("embed %d texts: %w: %w", len(texts), domain.ErrProviderUnavailable, joined)
}

func (c *Chain) try(ctx context.Context, p Provider, texts []string) ([]domain.Embedding, error) {
	res, err := p.batch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Mode, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%s: %w: expected %d vectors, got %d",
			p.Mode, domain.ErrProviderUnavailable, len(texts), len(res.Embeddings))
	}

	out := make([]domain.Embedding, len(res.Embeddings))
	for i, vec := range res.Embeddings {
		if len(vec) != c.active.Dimension {
			return nil, domain.NewDimensionMismatch(c.active.Dimension, len(vec))
		}
		out[i] = domain.NewEmbedding(vec, p.Mode)
	}
	return out, nil
}

func shouldFallback(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrValidation):
		return false
	}
	return true
}

// HealthCheck checks that the active provider answers.
func (c *Chain) HealthCheck(ctx context.Context) error {
	hc := c.active.Health
	if hc == nil {
		hc, _ = c.active.Embedder.(domain.HealthChecker)
	}
	if hc == nil {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health: %w", c.active.Mode, err)
	}
	return nil
}
