package domain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jordnlvr/hybridkb/internal/domain/provider"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = text
	return s.result, s.err
}

type stubBatchEmbedder struct {
	stubEmbedder
	batchResult BatchEmbeddingResult
	batchErr    error
	batchTexts  []string
}

func (s *stubBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (BatchEmbeddingResult, error) {
	s.batchTexts = texts
	return s.batchResult, s.batchErr
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short text untouched", "hello", 10, "hello"},
		{"exact length untouched", "hello", 5, "hello"},
		{"ascii cut", "hello world", 5, "hello"},
		{"multibyte cut on rune boundary", "héllo wörld", 7, "héllo w"},
		{"zero disables", "hello", 0, "hello"},
		{"negative disables", "hello", -1, "hello"},
		{"empty", "", 3, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Truncate(tc.in, tc.max); got != tc.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}

func TestTruncate_Deterministic(t *testing.T) {
	text := strings.Repeat("microflow ", 2000)
	a := Truncate(text, 8000)
	b := Truncate(text, 8000)
	if a != b {
		t.Fatal("truncation must be deterministic")
	}
	if len([]rune(a)) != 8000 {
		t.Errorf("expected 8000 runes, got %d", len([]rune(a)))
	}
}

func TestTruncatingEmbedder_CutsInput(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewTruncatingEmbedder(inner, 4)

	result, err := emb.Embed(context.Background(), "abcdefgh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.got != "abcd" {
		t.Errorf("expected truncated text, got %q", inner.got)
	}
	if len(result.Embedding) != 3 {
		t.Errorf("expected 3-element vector, got %d", len(result.Embedding))
	}
}

func TestTruncatingEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	emb := NewTruncatingEmbedder(&stubEmbedder{err: innerErr}, 100)

	_, err := emb.Embed(context.Background(), "hello")
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestTruncatingEmbedder_BatchEmbed_WithBatchInner(t *testing.T) {
	inner := &stubBatchEmbedder{
		batchResult: BatchEmbeddingResult{
			Embeddings:   [][]float32{{0.1}, {0.2}},
			PromptTokens: 20,
			TotalTokens:  20,
		},
	}
	emb := NewTruncatingEmbedder(inner, 3)

	res, err := emb.BatchEmbed(context.Background(), []string{"hello", "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if inner.batchTexts[0] != "hel" || inner.batchTexts[1] != "go" {
		t.Errorf("expected truncated texts, got %v", inner.batchTexts)
	}
}

func TestTruncatingEmbedder_BatchEmbed_FallbackToSingle(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{
		Embedding:    []float32{0.5},
		PromptTokens: 3,
		TotalTokens:  3,
	}}
	emb := NewTruncatingEmbedder(inner, 10)

	res, err := emb.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if res.TotalTokens != 6 {
		t.Errorf("expected TotalTokens=6, got %d", res.TotalTokens)
	}
}

func TestBatchFallback_Error(t *testing.T) {
	innerErr := errors.New("fail")
	_, err := BatchFallback(context.Background(), &stubEmbedder{err: innerErr}, []string{"a"})
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestBatchFallback_Empty(t *testing.T) {
	res, err := BatchFallback(context.Background(), &stubEmbedder{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 0 {
		t.Errorf("expected 0 embeddings, got %d", len(res.Embeddings))
	}
}

func TestNewEmbedding_TagsDimensionAndMode(t *testing.T) {
	e := NewEmbedding([]float32{1, 2, 3}, provider.Local)
	if e.Dimension != 3 || e.Mode != provider.Local {
		t.Errorf("unexpected embedding tags: %+v", e)
	}
}

func TestDimensionMismatchError_MatchesBothSentinels(t *testing.T) {
	err := NewDimensionMismatch(1536, 384)
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected ErrConfiguration")
	}
	if !errors.Is(err, ErrVectorDimMismatch) {
		t.Error("expected ErrVectorDimMismatch")
	}
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) || dm.Expected != 1536 || dm.Actual != 384 {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidation("doc-1", "content too short")
	if !errors.Is(err, ErrValidation) {
		t.Error("expected ErrValidation")
	}
	if !strings.Contains(err.Error(), "doc-1") {
		t.Errorf("expected document id in message, got %q", err.Error())
	}
}

func TestConfigurationf(t *testing.T) {
	err := Configurationf("missing %s", "api key")
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected ErrConfiguration")
	}
	if err.Error() != "configuration error: missing api key" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
