package lexical

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/jordnlvr/hybridkb/internal/domain"
)

// DefaultDimension is the vector size of the local provider.
const DefaultDimension = 384

// Vectorizer turns text into a fixed-size TF-IDF vector over the most common
// terms of the current index snapshot. It needs no network and is deterministic.
type Vectorizer struct {
	index *Index
	dim   int

	mu    sync.Mutex
	built *snapshot
	vocab map[string]int
	idf   []float64
	rev   string
}

// NewVectorizer creates a local vectorizer over idx. dim <= 0 uses DefaultDimension.
func NewVectorizer(idx *Index, dim int) *Vectorizer {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Vectorizer{index: idx, dim: dim}
}

// Dimension returns the fixed output size.
func (v *Vectorizer) Dimension() int { return v.dim }

// Embed vectorizes a single text.
func (v *Vectorizer) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err //nolint:wrapcheck // context errors pass through
	}
	vocab, idf, err := v.vocabulary()
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	vec := make([]float32, v.dim)
	var hits int
	for _, tok := range Tokenize(text) {
		if i, ok := vocab[tok]; ok {
			vec[i] += float32(idf[i])
			hits++
		}
	}
	if hits == 0 {
		return domain.EmbeddingResult{}, domain.NewValidation("", "text has no term in the local vocabulary")
	}

	normalize(vec)
	return domain.EmbeddingResult{Embedding: vec}, nil
}

// BatchEmbed vectorizes texts in order.
func (v *Vectorizer) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchFallback(ctx, v, texts) //nolint:wrapcheck // fallback already wraps
}

// Revision fingerprints the vocabulary and idf weights that define the vector
// slots. It changes whenever a rebuild changes them and is empty before the
// index is built.
func (v *Vectorizer) Revision() string {
	if _, _, err := v.vocabulary(); err != nil {
		return ""
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rev
}

// HealthCheck reports whether the index backing the vocabulary has been built.
func (v *Vectorizer) HealthCheck(_ context.Context) error {
	if !v.index.Built() {
		return fmt.Errorf("local vectorizer: %w: lexical index not built", domain.ErrProviderUnavailable)
	}
	return nil
}

// vocabulary returns the term->slot mapping for the current snapshot,
// recomputing it when the index has been rebuilt.
func (v *Vectorizer) vocabulary() (map[string]int, []float64, error) {
	snap := v.index.current.Load()
	if snap == nil {
		return nil, nil, fmt.Errorf("local vectorizer: %w: lexical index not built", domain.ErrProviderUnavailable)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.built == snap {
		return v.vocab, v.idf, nil
	}

	type termDF struct {
		term string
		df   int
	}
	terms := make([]termDF, 0, len(snap.postings))
	for term, list := range snap.postings {
		terms = append(terms, termDF{term: term, df: len(list)})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].df != terms[j].df {
			return terms[i].df > terms[j].df
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > v.dim {
		terms = terms[:v.dim]
	}

	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	digest := xxhash.New()
	for i, t := range terms {
		vocab[t.term] = i
		idf[i] = snap.idf(t.term)
		_, _ = digest.WriteString(t.term)
		_, _ = digest.WriteString("\x1f" + strconv.FormatFloat(idf[i], 'g', -1, 64) + "\x1e")
	}

	v.built, v.vocab, v.idf = snap, vocab, idf
	v.rev = strconv.FormatUint(digest.Sum64(), 16)
	return vocab, idf, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
