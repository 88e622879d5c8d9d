package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/provider"
)

// fakeProvider returns dim-sized vectors or a configured error, counting calls.
type fakeProvider struct {
	dim   int
	err   error
	calls int
	block bool
}

func (f *fakeProvider) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := f.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

func (f *fakeProvider) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return domain.BatchEmbeddingResult{}, ctx.Err()
	}
	if f.err != nil {
		return domain.BatchEmbeddingResult{}, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i + 1)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

func (f *fakeProvider) HealthCheck(context.Context) error { return f.err }

func candidate(mode provider.Mode, p *fakeProvider) Provider {
	return Provider{Mode: mode, Dimension: p.dim, BatchSize: 8, Available: true, Embedder: p}
}

var errOutage = fmt.Errorf("503: %w", domain.ErrProviderUnavailable)

func TestNewChain_NoneAvailable(t *testing.T) {
	p := candidate(provider.OpenAI, &fakeProvider{dim: 1536})
	p.Available = false

	_, err := NewChain(zap.NewNop(), p)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewChain_PriorityOrder(t *testing.T) {
	local := candidate(provider.Local, &fakeProvider{dim: 384})
	openai := candidate(provider.OpenAI, &fakeProvider{dim: 1536})
	azure := candidate(provider.AzureOpenAI, &fakeProvider{dim: 1536})

	c, err := NewChain(zap.NewNop(), local, openai, azure)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode() != provider.AzureOpenAI {
		t.Errorf("expected azure-openai active, got %s", c.Mode())
	}
	if c.Dimension() != 1536 || c.BatchSize() != 8 {
		t.Errorf("unexpected dimension/batch: %d/%d", c.Dimension(), c.BatchSize())
	}
	fb := c.Fallbacks()
	if len(fb) != 1 || fb[0] != provider.OpenAI {
		t.Errorf("expected only openai as fallback, got %v", fb)
	}
}

func TestNewChain_SkipsUnavailable(t *testing.T) {
	azure := candidate(provider.AzureOpenAI, &fakeProvider{dim: 1536})
	azure.Available = false
	local := candidate(provider.Local, &fakeProvider{dim: 384})

	c, err := NewChain(zap.NewNop(), azure, local)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode() != provider.Local || c.Dimension() != 384 {
		t.Errorf("expected local active, got %s/%d", c.Mode(), c.Dimension())
	}
	if len(c.Fallbacks()) != 0 {
		t.Errorf("expected no fallbacks, got %v", c.Fallbacks())
	}
}

func TestChain_EmbedBatch_TagsVectors(t *testing.T) {
	c, err := NewChain(zap.NewNop(), candidate(provider.OpenAI, &fakeProvider{dim: 4}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(out))
	}
	for i, e := range out {
		if e.Mode != provider.OpenAI || e.Dimension != 4 {
			t.Errorf("embedding %d tagged %s/%d", i, e.Mode, e.Dimension)
		}
		if e.Vector[0] != float32(i+1) {
			t.Errorf("embedding %d out of order", i)
		}
	}

	none, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || none != nil {
		t.Errorf("expected nil, nil for empty input, got %v, %v", none, err)
	}
}

func TestChain_FallbackOnOutage(t *testing.T) {
	azure := &fakeProvider{dim: 1536, err: errOutage}
	openai := &fakeProvider{dim: 1536}
	c, err := NewChain(zap.NewNop(), candidate(provider.AzureOpenAI, azure), candidate(provider.OpenAI, openai))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, err := c.Embed(context.Background(), "loop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Mode != provider.OpenAI {
		t.Errorf("expected fallback to tag openai, got %s", e.Mode)
	}
	if azure.calls != 1 || openai.calls != 1 {
		t.Errorf("expected one attempt each, got azure=%d openai=%d", azure.calls, openai.calls)
	}
}

func TestChain_AllFail(t *testing.T) {
	azure := &fakeProvider{dim: 1536, err: errOutage}
	openai := &fakeProvider{dim: 1536, err: errors.New("connection reset")}
	c, err := NewChain(zap.NewNop(), candidate(provider.AzureOpenAI, azure), candidate(provider.OpenAI, openai))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if azure.calls != 1 || openai.calls != 1 {
		t.Errorf("expected exactly one attempt per provider, got azure=%d openai=%d", azure.calls, openai.calls)
	}
}

func TestChain_PlainErrorWrappedAsUnavailable(t *testing.T) {
	c, err := NewChain(zap.NewNop(), candidate(provider.OpenAI, &fakeProvider{dim: 8, err: errors.New("boom")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestChain_LocalNeverFallsBackForRemote(t *testing.T) {
	openai := &fakeProvider{dim: 1536, err: errOutage}
	local := &fakeProvider{dim: 384}
	c, err := NewChain(zap.NewNop(), candidate(provider.OpenAI, openai), candidate(provider.Local, local))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if local.calls != 0 {
		t.Errorf("local provider must not be used for a 1536-dim namespace, got %d calls", local.calls)
	}
}

func TestChain_RequireDimension_LocalAgainstRemoteCollection(t *testing.T) {
	local := &fakeProvider{dim: 384}
	c, err := NewChain(zap.NewNop(), candidate(provider.Local, local))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.RequireDimension(1536); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration from RequireDimension, got %v", err)
	}

	_, err = c.EmbedBatch(context.Background(), []string{"loop"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	var dm *domain.DimensionMismatchError
	if !errors.As(err, &dm) || dm.Expected != 1536 || dm.Actual != 384 {
		t.Errorf("unexpected error: %v", err)
	}
	if local.calls != 0 {
		t.Errorf("provider must not be called on mismatch, got %d calls", local.calls)
	}
}

func TestChain_RequireDimension_Match(t *testing.T) {
	c, err := NewChain(zap.NewNop(), candidate(provider.Local, &fakeProvider{dim: 384}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.RequireDimension(384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Embed(context.Background(), "loop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChain_CancellationDoesNotFallBack(t *testing.T) {
	azure := &fakeProvider{dim: 16, block: true}
	openai := &fakeProvider{dim: 16}
	c, err := NewChain(zap.NewNop(), candidate(provider.AzureOpenAI, azure), candidate(provider.OpenAI, openai))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.EmbedBatch(ctx, []string{"a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if openai.calls != 0 {
		t.Errorf("fallback must not run after cancellation, got %d calls", openai.calls)
	}
}

func TestChain_ValidationErrorDoesNotFallBack(t *testing.T) {
	azure := &fakeProvider{dim: 16, err: domain.NewValidation("", "no vocabulary term")}
	openai := &fakeProvider{dim: 16}
	c, err := NewChain(zap.NewNop(), candidate(provider.AzureOpenAI, azure), candidate(provider.OpenAI, openai))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if openai.calls != 0 {
		t.Errorf("expected no fallback, got %d calls", openai.calls)
	}
}

func TestChain_WrongVectorSize(t *testing.T) {
	inner := &fakeProvider{dim: 3}
	p := candidate(provider.OpenAI, inner)
	p.Dimension = 1536

	c, err := NewChain(zap.NewNop(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestChain_HealthCheck(t *testing.T) {
	c, err := NewChain(zap.NewNop(), candidate(provider.OpenAI, &fakeProvider{dim: 4, err: errOutage}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("expected health error, got %v", err)
	}
}

type revisionedProvider struct {
	fakeProvider
	rev string
}

func (r *revisionedProvider) Revision() string { return r.rev }

func TestChain_Revision(t *testing.T) {
	remote, err := NewChain(zap.NewNop(), candidate(provider.OpenAI, &fakeProvider{dim: 4}))
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	if got := remote.Revision(); got != "" {
		t.Errorf("remote provider revision = %q, want empty", got)
	}

	local := &revisionedProvider{fakeProvider: fakeProvider{dim: 2}, rev: "v1"}
	chain, err := NewChain(zap.NewNop(), Provider{Mode: provider.Local, Dimension: 2, BatchSize: 8, Available: true, Embedder: local})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	if got := chain.Revision(); got != "v1" {
		t.Errorf("revision = %q, want v1", got)
	}
	local.rev = "v2"
	if got := chain.Revision(); got != "v2" {
		t.Errorf("revision = %q, want v2", got)
	}
}
