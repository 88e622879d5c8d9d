package search

import (
	"errors"
	"sort"

	"github.com/jordnlvr/hybridkb/internal/domain/search/result"
)

// DefaultRRFK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const DefaultRRFK = 60

// Weights scale each branch's RRF contribution. Only their ratio matters.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights gives both branches equal influence.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// Validate requires non-negative weights with a positive sum.
func (w Weights) Validate() error {
	if w.Lexical < 0 || w.Vector < 0 {
		return errors.New("fusion weights must not be negative")
	}
	if w.Lexical+w.Vector <= 0 {
		return errors.New("fusion weights must sum to a positive value")
	}
	return nil
}

// Fuse merges the lexical and vector rankings via weighted Reciprocal Rank Fusion.
// score(d) = sum of weight/(k + rank + 1) over the lists containing d (rank is 0-based).
// Documents are matched by id, else by title. Ties keep first-seen order, lexical before vector.
func Fuse(lexical, vector []result.Hit, w Weights, k int) []result.Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	merged := make(map[string]*result.Fused, len(lexical)+len(vector))
	order := make([]*result.Fused, 0, len(lexical)+len(vector))

	entry := func(h result.Hit) *result.Fused {
		if f, ok := merged[h.Key()]; ok {
			return f
		}
		f := &result.Fused{DocumentID: h.ID(), Title: h.Title(), Category: h.Category()}
		merged[h.Key()] = f
		order = append(order, f)
		return f
	}

	for rank, h := range lexical {
		f := entry(h)
		if f.MatchedVia.Lexical {
			continue // duplicate within one list keeps its best rank
		}
		score := h.Score()
		f.LexicalScore = &score
		f.MatchedVia.Lexical = true
		f.FusedScore += w.Lexical / float64(k+rank+1)
	}

	for rank, h := range vector {
		f := entry(h)
		if f.MatchedVia.Vector {
			continue
		}
		score := h.Score()
		f.VectorScore = &score
		f.MatchedVia.Vector = true
		f.FusedScore += w.Vector / float64(k+rank+1)
		if f.Category == "" {
			f.Category = h.Category()
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].FusedScore > order[j].FusedScore
	})

	out := make([]result.Fused, len(order))
	for i, f := range order {
		out[i] = *f
	}
	return out
}
