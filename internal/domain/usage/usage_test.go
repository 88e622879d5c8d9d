package usage

import (
	"testing"

	"github.com/jordnlvr/hybridkb/internal/domain/provider"
)

func TestNewReport(t *testing.T) {
	b := NewBudget(1000000, 615800, false, 1700000000000)

	r := NewReport(provider.OpenAI, PeriodMonth, 1700000000, 1702600000, 384200, b)

	if r.Provider() != provider.OpenAI {
		t.Errorf("Provider() = %q", r.Provider())
	}
	if r.Period() != PeriodMonth {
		t.Errorf("Period() = %q", r.Period())
	}
	if r.PeriodStart() != 1700000000 {
		t.Errorf("PeriodStart() = %d", r.PeriodStart())
	}
	if r.PeriodEnd() != 1702600000 {
		t.Errorf("PeriodEnd() = %d", r.PeriodEnd())
	}
	if r.TokensUsed() != 384200 {
		t.Errorf("TokensUsed() = %d", r.TokensUsed())
	}
	if r.Budget().TokensLimit() != 1000000 {
		t.Errorf("Budget().TokensLimit() = %d", r.Budget().TokensLimit())
	}
}

func TestBudget(t *testing.T) {
	b := NewBudget(100, 0, true, 42)
	if !b.IsExhausted() {
		t.Error("expected exhausted")
	}
	if b.TokensRemaining() != 0 {
		t.Errorf("TokensRemaining() = %d", b.TokensRemaining())
	}
	if b.ResetsAt() != 42 {
		t.Errorf("ResetsAt() = %d", b.ResetsAt())
	}
}
