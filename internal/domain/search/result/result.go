package result

// Hit is a single ranked entry from one retrieval branch.
type Hit struct {
	id       string
	title    string
	category string
	score    float64
	metadata map[string]string
}

// NewHit creates a branch hit.
func NewHit(id, title, category string, score float64, metadata map[string]string) Hit {
	return Hit{id: id, title: title, category: category, score: score, metadata: metadata}
}

// ID returns the document identifier.
func (h Hit) ID() string { return h.id }

// Title returns the document title.
func (h Hit) Title() string { return h.title }

// Category returns the document category.
func (h Hit) Category() string { return h.category }

// Score returns the branch-specific relevance score.
func (h Hit) Score() float64 { return h.score }

// Metadata returns the stored metadata tags.
func (h Hit) Metadata() map[string]string { return h.metadata }

// Key returns the fusion identity: the id when present, otherwise the title.
func (h Hit) Key() string {
	if h.id != "" {
		return h.id
	}
	return h.title
}

// MatchedVia records which retrieval branches produced a fused result.
type MatchedVia struct {
	Lexical bool
	Vector  bool
}

// Fused is one entry of the merged ranking.
// LexicalScore and VectorScore are nil when the branch did not return the document.
type Fused struct {
	DocumentID   string
	Title        string
	Category     string
	LexicalScore *float64
	VectorScore  *float64
	FusedScore   float64
	MatchedVia   MatchedVia
}
