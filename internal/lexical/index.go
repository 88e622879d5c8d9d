package lexical

import (
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jordnlvr/hybridkb/internal/domain/document"
	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
)

// Posting records how often a term occurs in one document.
type Posting struct {
	DocumentID    string
	TermFrequency int
}

// Hit is a scored lexical match.
type Hit struct {
	Document document.Document
	Score    float64
}

// Stats describes the current snapshot.
type Stats struct {
	Documents int
	Terms     int
	BuiltAt   time.Time
}

type posting struct {
	doc int
	tf  int
}

// snapshot is immutable once published.
type snapshot struct {
	docs     []document.Document
	postings map[string][]posting
	builtAt  time.Time
}

func (s *snapshot) idf(term string) float64 {
	df := len(s.postings[term])
	return math.Log(float64(len(s.docs))/float64(df+1)) + 1
}

// Index is a TF-IDF inverted index. Build swaps in a complete snapshot atomically,
// so concurrent searches never observe a half-built index.
type Index struct {
	current atomic.Pointer[snapshot]
	now     func() time.Time
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{now: time.Now}
}

// Build indexes docs into a fresh snapshot and publishes it.
// Duplicate ids keep the first occurrence.
func (idx *Index) Build(docs []document.Document) {
	snap := &snapshot{
		docs:     make([]document.Document, 0, len(docs)),
		postings: make(map[string][]posting),
		builtAt:  idx.now(),
	}

	seen := make(map[string]struct{}, len(docs))
	for i := range docs {
		d := docs[i]
		if _, dup := seen[d.ID()]; dup {
			continue
		}
		seen[d.ID()] = struct{}{}

		pos := len(snap.docs)
		snap.docs = append(snap.docs, d)

		counts := make(map[string]int)
		for _, tok := range Tokenize(d.Text()) {
			counts[tok]++
		}
		for term, tf := range counts {
			snap.postings[term] = append(snap.postings[term], posting{doc: pos, tf: tf})
		}
	}

	idx.current.Store(snap)
}

// Built reports whether a snapshot has been published.
func (idx *Index) Built() bool {
	return idx.current.Load() != nil
}

// Search scores documents against the query and returns them best first,
// ties broken by document id. limit <= 0 returns every match. Documents
// whose metadata does not satisfy the filter are dropped before the limit.
func (idx *Index) Search(query string, limit int, f filter.Expression) []Hit {
	snap := idx.current.Load()
	if snap == nil || len(snap.docs) == 0 {
		return nil
	}

	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	scores := make(map[int]float64)
	for _, term := range terms {
		list, ok := snap.postings[term]
		if !ok {
			continue
		}
		idf := snap.idf(term)
		for _, p := range list {
			scores[p.doc] += float64(p.tf) * idf
		}
	}

	hits := make([]Hit, 0, len(scores))
	for pos, score := range scores {
		d := snap.docs[pos]
		if !f.IsEmpty() && !f.Matches(d.Metadata()) {
			continue
		}
		hits = append(hits, Hit{Document: d, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID() < hits[j].Document.ID()
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// IDF returns the smoothed inverse document frequency of an already-stemmed term.
// It returns 0 before the first build.
func (idx *Index) IDF(term string) float64 {
	snap := idx.current.Load()
	if snap == nil || len(snap.docs) == 0 {
		return 0
	}
	return snap.idf(term)
}

// DocumentFrequency returns the number of distinct documents containing term.
func (idx *Index) DocumentFrequency(term string) int {
	snap := idx.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.postings[term])
}

// Postings returns the posting list of term in indexing order.
func (idx *Index) Postings(term string) []Posting {
	snap := idx.current.Load()
	if snap == nil {
		return nil
	}
	list := snap.postings[term]
	out := make([]Posting, len(list))
	for i, p := range list {
		d := snap.docs[p.doc]
		out[i] = Posting{DocumentID: d.ID(), TermFrequency: p.tf}
	}
	return out
}

// Documents returns the indexed documents in indexing order.
func (idx *Index) Documents() []document.Document {
	snap := idx.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]document.Document, len(snap.docs))
	copy(out, snap.docs)
	return out
}

// Stats returns counters for the current snapshot.
func (idx *Index) Stats() Stats {
	snap := idx.current.Load()
	if snap == nil {
		return Stats{}
	}
	return Stats{Documents: len(snap.docs), Terms: len(snap.postings), BuiltAt: snap.builtAt}
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
