package filter

import (
	"fmt"
	"sort"
)

// MaxConditions is the maximum number of conditions per expression.
const MaxConditions = 32

// Fields lists the metadata tag fields a filter may reference.
var Fields = map[string]bool{"category": true, "source": true, "version": true}

// Expression is a conjunction of exact tag matches over document metadata.
type Expression struct {
	must []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must []Condition) (Expression, error) {
	if len(must) > MaxConditions {
		return Expression{}, fmt.Errorf("too many filter conditions (max %d)", MaxConditions)
	}
	return Expression{must: must}, nil
}

// FromMap builds an expression from key=value pairs. Keys are applied in sorted order
// so the rendered filter is stable. A nil or empty map yields an empty expression.
func FromMap(m map[string]string) (Expression, error) {
	if len(m) == 0 {
		return Expression{}, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, k := range keys {
		c, err := NewMatch(k, m[k])
		if err != nil {
			return Expression{}, err
		}
		conds = append(conds, c)
	}
	return NewExpression(conds)
}

// Must returns the conditions that all have to hold.
func (e Expression) Must() []Condition { return e.must }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.must) == 0 }

// Matches evaluates the expression against document metadata in memory.
func (e Expression) Matches(meta map[string]string) bool {
	for _, c := range e.must {
		if meta[c.key] != c.match {
			return false
		}
	}
	return true
}

// Condition is a single exact tag match.
type Condition struct {
	key   string
	match string
}

// NewMatch creates an exact tag match condition on a known metadata field.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if !Fields[key] {
		return Condition{}, fmt.Errorf("unknown filter field %q", key)
	}
	if match == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: match}, nil
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }
