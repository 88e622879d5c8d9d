package hybridkb

import (
	"time"

	"github.com/jordnlvr/hybridkb/internal/domain/search/result"
	domusage "github.com/jordnlvr/hybridkb/internal/domain/usage"
)

// Query is a hybrid search request.
type Query struct {
	Text string `json:"query"`
	// Limit <= 0 takes the configured default; larger values are capped.
	Limit int `json:"limit,omitempty"`
	// Filters match metadata tags exactly: category, source, version.
	Filters map[string]string `json:"filters,omitempty"`
	// MinScore is the vector similarity floor. Zero uses the configured default.
	MinScore float64 `json:"min_score,omitempty"`
}

// MatchedVia tells which branches returned a result.
type MatchedVia struct {
	Lexical bool `json:"lexical"`
	Vector  bool `json:"vector"`
}

// Result is one fused hit. Branch scores are nil when the branch missed the document.
type Result struct {
	DocumentID   string     `json:"document_id"`
	Title        string     `json:"title"`
	Category     string     `json:"category,omitempty"`
	LexicalScore *float64   `json:"lexical_score,omitempty"`
	VectorScore  *float64   `json:"vector_score,omitempty"`
	FusedScore   float64    `json:"fused_score"`
	MatchedVia   MatchedVia `json:"matched_via"`
}

// IndexReport summarizes an indexing run.
type IndexReport struct {
	Documents     int  `json:"documents"`
	Terms         int  `json:"terms"`
	VectorEnabled bool `json:"vector_enabled"`
	VectorIndexed int  `json:"vector_indexed"`
	VectorSkipped int  `json:"vector_skipped"`
	VectorPruned  int  `json:"vector_pruned"`
}

// VectorStats describes the remote collection and the active provider.
type VectorStats struct {
	Count     int      `json:"count"`
	Dimension int      `json:"dimension"`
	Provider  string   `json:"provider"`
	Fallbacks []string `json:"fallbacks"`
	Ready     bool     `json:"ready"`
	Error     string   `json:"error,omitempty"`
}

// CacheStats are the query embedding cache counters.
type CacheStats struct {
	Size       int    `json:"size"`
	Capacity   int    `json:"capacity"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Insertions uint64 `json:"insertions"`
}

// Stats is the engine snapshot served by GET /stats.
type Stats struct {
	Documents int          `json:"documents"`
	Terms     int          `json:"terms"`
	BuiltAt   *time.Time   `json:"built_at,omitempty"`
	Vector    *VectorStats `json:"vector,omitempty"`
	Cache     *CacheStats  `json:"cache,omitempty"`
}

// HealthReport is the aggregated health. Status is ok, degraded or error.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// UsageReport is token consumption of one provider over a period.
type UsageReport struct {
	Provider        string    `json:"provider"`
	Period          string    `json:"period"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	TokensUsed      int64     `json:"tokens_used"`
	TokensLimit     int64     `json:"tokens_limit"`
	TokensRemaining int64     `json:"tokens_remaining"`
	Exhausted       bool      `json:"exhausted"`
}

func resultFromFused(f *result.Fused) Result {
	return Result{
		DocumentID:   f.DocumentID,
		Title:        f.Title,
		Category:     f.Category,
		LexicalScore: f.LexicalScore,
		VectorScore:  f.VectorScore,
		FusedScore:   f.FusedScore,
		MatchedVia:   MatchedVia{Lexical: f.MatchedVia.Lexical, Vector: f.MatchedVia.Vector},
	}
}

func usageFromDomain(r *domusage.Report) UsageReport {
	b := r.Budget()
	return UsageReport{
		Provider:        string(r.Provider()),
		Period:          string(r.Period()),
		PeriodStart:     time.UnixMilli(r.PeriodStart()).UTC(),
		PeriodEnd:       time.UnixMilli(r.PeriodEnd()).UTC(),
		TokensUsed:      r.TokensUsed(),
		TokensLimit:     b.TokensLimit(),
		TokensRemaining: b.TokensRemaining(),
		Exhausted:       b.IsExhausted(),
	}
}
