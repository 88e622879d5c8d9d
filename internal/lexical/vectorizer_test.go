package lexical

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordnlvr/hybridkb/internal/domain"
	"github.com/jordnlvr/hybridkb/internal/domain/document"
)

func l2(vec []float32) float64 {
	var s float64
	for _, x := range vec {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestVectorizer_UnbuiltIndex(t *testing.T) {
	v := NewVectorizer(NewIndex(), 0)
	assert.Equal(t, DefaultDimension, v.Dimension())

	_, err := v.Embed(context.Background(), "loop")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	require.ErrorIs(t, v.HealthCheck(context.Background()), domain.ErrProviderUnavailable)
}

func TestVectorizer_FixedDimensionAndNormalized(t *testing.T) {
	v := NewVectorizer(scenarioIndex(t), 0)

	res, err := v.Embed(context.Background(), "create a loop")
	require.NoError(t, err)
	assert.Len(t, res.Embedding, DefaultDimension)
	assert.InDelta(t, 1.0, l2(res.Embedding), 1e-6)
	require.NoError(t, v.HealthCheck(context.Background()))
}

func TestVectorizer_Deterministic(t *testing.T) {
	v := NewVectorizer(scenarioIndex(t), 16)

	a, err := v.Embed(context.Background(), "microflow loop")
	require.NoError(t, err)
	b, err := v.Embed(context.Background(), "microflow loop")
	require.NoError(t, err)
	assert.Equal(t, a.Embedding, b.Embedding)
}

func TestVectorizer_NoVocabularyTerm(t *testing.T) {
	v := NewVectorizer(scenarioIndex(t), 0)

	_, err := v.Embed(context.Background(), "widget")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestVectorizer_VocabularyIsTopDocumentFrequency(t *testing.T) {
	idx := NewIndex()
	idx.Build([]document.Document{
		doc(t, "a", "common alpha"),
		doc(t, "b", "common beta"),
		doc(t, "c", "common gamma"),
	})
	v := NewVectorizer(idx, 2)

	// vocabulary = [common (df 3), alpha (df 1, first by term)]
	res, err := v.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, res.Embedding)

	_, err = v.Embed(context.Background(), "gamma")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestVectorizer_FollowsRebuild(t *testing.T) {
	idx := scenarioIndex(t)
	v := NewVectorizer(idx, 0)

	_, err := v.Embed(context.Background(), "widget")
	require.ErrorIs(t, err, domain.ErrValidation)

	idx.Build([]document.Document{doc(t, "w", "widget gallery")})
	_, err = v.Embed(context.Background(), "widget")
	require.NoError(t, err)
}

func TestVectorizer_BatchEmbed(t *testing.T) {
	v := NewVectorizer(scenarioIndex(t), 0)

	res, err := v.BatchEmbed(context.Background(), []string{"loop", "cloud"})
	require.NoError(t, err)
	require.Len(t, res.Embeddings, 2)
	assert.NotEqual(t, res.Embeddings[0], res.Embeddings[1])
}

func TestVectorizer_CanceledContext(t *testing.T) {
	v := NewVectorizer(scenarioIndex(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Embed(ctx, "loop")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestVectorizer_Revision(t *testing.T) {
	idx := NewIndex()
	v := NewVectorizer(idx, 4)
	assert.Empty(t, v.Revision())

	corpus := []document.Document{doc(t, "a", "create microflow loop"), doc(t, "b", "deploy to cloud")}
	idx.Build(corpus)
	first := v.Revision()
	require.NotEmpty(t, first)

	idx.Build(corpus)
	assert.Equal(t, first, v.Revision(), "same corpus, same slots")

	idx.Build([]document.Document{doc(t, "w", "widget gallery"), doc(t, "a", "create microflow loop")})
	assert.NotEqual(t, first, v.Revision())
}
