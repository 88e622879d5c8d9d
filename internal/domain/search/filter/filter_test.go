package filter

import (
	"strings"
	"testing"
)

func TestNewMatch_Valid(t *testing.T) {
	c, err := NewMatch("category", "microflows")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Key() != "category" || c.Match() != "microflows" {
		t.Errorf("unexpected condition: %+v", c)
	}
}

func TestNewMatch_Errors(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"", "x", "key is required"},
		{"color", "red", "unknown filter field"},
		{"source", "", "value is required"},
	}
	for _, tc := range tests {
		_, err := NewMatch(tc.key, tc.value)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("NewMatch(%q, %q) error = %v, want %q", tc.key, tc.value, err, tc.want)
		}
	}
}

func TestNewExpression_TooMany(t *testing.T) {
	c, _ := NewMatch("category", "x")
	conds := make([]Condition, MaxConditions+1)
	for i := range conds {
		conds[i] = c
	}
	if _, err := NewExpression(conds); err == nil {
		t.Fatal("expected error for too many conditions")
	}
}

func TestFromMap_EmptyIsEmpty(t *testing.T) {
	for _, m := range []map[string]string{nil, {}} {
		expr, err := FromMap(m)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !expr.IsEmpty() {
			t.Error("expected empty expression")
		}
	}
}

func TestFromMap_SortedKeys(t *testing.T) {
	expr, err := FromMap(map[string]string{"version": "10", "category": "ops", "source": "docs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := make([]string, 0, 3)
	for _, c := range expr.Must() {
		got = append(got, c.Key())
	}
	if strings.Join(got, ",") != "category,source,version" {
		t.Errorf("unexpected key order: %v", got)
	}
}

func TestFromMap_UnknownKey(t *testing.T) {
	if _, err := FromMap(map[string]string{"price": "10"}); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestMatches(t *testing.T) {
	expr, _ := FromMap(map[string]string{"category": "ops", "version": "10"})

	if !expr.Matches(map[string]string{"category": "ops", "version": "10", "source": "x"}) {
		t.Error("expected match")
	}
	if expr.Matches(map[string]string{"category": "ops"}) {
		t.Error("missing field should not match")
	}
	if expr.Matches(map[string]string{"category": "dev", "version": "10"}) {
		t.Error("different value should not match")
	}
	if !(Expression{}).Matches(nil) {
		t.Error("empty expression matches everything")
	}
}
