package result

import "testing"

func TestNewHit(t *testing.T) {
	h := NewHit("doc-1", "Loops", "microflows", 0.87, map[string]string{"source": "docs"})

	if h.ID() != "doc-1" {
		t.Errorf("ID() = %q", h.ID())
	}
	if h.Title() != "Loops" {
		t.Errorf("Title() = %q", h.Title())
	}
	if h.Category() != "microflows" {
		t.Errorf("Category() = %q", h.Category())
	}
	if h.Score() != 0.87 {
		t.Errorf("Score() = %v", h.Score())
	}
	if h.Metadata()["source"] != "docs" {
		t.Errorf("Metadata() = %v", h.Metadata())
	}
}

func TestHitKey(t *testing.T) {
	if got := NewHit("doc-1", "Loops", "", 1, nil).Key(); got != "doc-1" {
		t.Errorf("Key() = %q, want id", got)
	}
	if got := NewHit("", "Loops", "", 1, nil).Key(); got != "Loops" {
		t.Errorf("Key() = %q, want title fallback", got)
	}
}
