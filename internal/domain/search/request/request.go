package request

import (
	"fmt"
	"strings"

	"github.com/jordnlvr/hybridkb/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultLimit   = 10
	MaxLimit       = 100
)

// Request is a validated hybrid search query.
type Request struct {
	text     string
	limit    int
	filters  filter.Expression
	minScore float64
}

// New validates and normalizes search parameters.
// Blank text is accepted and yields an empty result downstream.
// Limit defaults to DefaultLimit and is clamped to MaxLimit.
func New(text string, limit int, filters filter.Expression, minScore float64) (Request, error) {
	text = strings.TrimSpace(text)
	if len(text) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if minScore < 0 || minScore > 1 {
		return Request{}, fmt.Errorf("min_score must be between 0 and 1")
	}

	return Request{
		text:     text,
		limit:    limit,
		filters:  filters,
		minScore: minScore,
	}, nil
}

// Text returns the trimmed query text.
func (r *Request) Text() string { return r.text }

// IsEmpty reports whether there is nothing to search for.
func (r *Request) IsEmpty() bool { return r.text == "" }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// Candidates returns how many hits each branch should fetch before fusion.
func (r *Request) Candidates(multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	return r.limit * multiplier
}

// Filters returns the metadata filter expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// MinScore returns the minimum vector similarity threshold.
func (r *Request) MinScore() float64 { return r.minScore }

// Limits overrides DefaultLimit and MaxLimit per deployment.
type Limits struct {
	Default int
	Max     int
}

// Clamp resolves a requested limit: non-positive takes Default, anything above Max is cut to Max.
// Zero fields fall back to the package defaults.
func (l Limits) Clamp(limit int) int {
	def, maxLimit := l.Default, l.Max
	if maxLimit <= 0 || maxLimit > MaxLimit {
		maxLimit = MaxLimit
	}
	if def <= 0 {
		def = DefaultLimit
	}
	if limit <= 0 {
		limit = def
	}
	return min(limit, maxLimit)
}
