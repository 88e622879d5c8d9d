package domain

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jordnlvr/hybridkb/internal/domain/provider"
)

// KeyPrefix namespaces every key this service writes to the shared store.
const KeyPrefix = "hybridkb:"

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Embedding is a vector tagged with the provider mode that produced it.
type Embedding struct {
	Vector    []float32
	Dimension int
	Mode      provider.Mode
}

// NewEmbedding tags a vector with its origin.
func NewEmbedding(vec []float32, mode provider.Mode) Embedding {
	return Embedding{Vector: vec, Dimension: len(vec), Mode: mode}
}

// BatchFallback calls Embed once per text for providers without a native batch endpoint.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// Truncate cuts text to at most maxRunes runes. maxRunes <= 0 disables the cut.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == maxRunes {
			return text[:i]
		}
		n++
	}
	return text
}

// TruncatingEmbedder hard-cuts every input to a character budget before delegating.
type TruncatingEmbedder struct {
	inner    Embedder
	maxRunes int
}

// NewTruncatingEmbedder creates a decorator that enforces the provider input budget.
func NewTruncatingEmbedder(inner Embedder, maxRunes int) *TruncatingEmbedder {
	return &TruncatingEmbedder{inner: inner, maxRunes: maxRunes}
}

// Embed truncates and delegates to the inner embedder.
func (e *TruncatingEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, Truncate(text, e.maxRunes))
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("truncated embed: %w", err)
	}
	return result, nil
}

// BatchEmbed truncates each text and delegates to the inner BatchEmbedder,
// falling back to per-text Embed when the inner embedder has no batch form.
func (e *TruncatingEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	cut := make([]string, len(texts))
	for i, t := range texts {
		cut[i] = Truncate(t, e.maxRunes)
	}

	if be, ok := e.inner.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, cut)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("truncated batch embed: %w", err)
		}
		return res, nil
	}

	res, err := BatchFallback(ctx, e.inner, cut)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("truncated batch embed fallback: %w", err)
	}
	return res, nil
}

// HealthCheck forwards to the inner embedder when it supports health checks.
func (e *TruncatingEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
