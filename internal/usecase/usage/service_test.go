package usage

import (
	"context"
	"testing"
	"time"

	"github.com/jordnlvr/hybridkb/internal/domain/provider"
	domusage "github.com/jordnlvr/hybridkb/internal/domain/usage"
)

// --- Mock ---

type mockBudgetReader struct {
	mode             provider.Mode
	dailyLimit       int64
	monthlyLimit     int64
	dailyUsed        int64
	monthlyUsed      int64
	remainingDaily   int64
	remainingMonthly int64
}

func (m *mockBudgetReader) Provider() provider.Mode { return m.mode }
func (m *mockBudgetReader) DailyLimit() int64       { return m.dailyLimit }
func (m *mockBudgetReader) MonthlyLimit() int64     { return m.monthlyLimit }
func (m *mockBudgetReader) DailyUsed() int64        { return m.dailyUsed }
func (m *mockBudgetReader) MonthlyUsed() int64      { return m.monthlyUsed }
func (m *mockBudgetReader) RemainingDaily() int64   { return m.remainingDaily }
func (m *mockBudgetReader) RemainingMonthly() int64 { return m.remainingMonthly }

func fixedService(readers ...BudgetReader) *Service {
	svc := New(readers...)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }
	return svc
}

// --- Tests ---

func TestReports_DailyPeriod(t *testing.T) {
	br := &mockBudgetReader{
		mode:             provider.AzureOpenAI,
		dailyLimit:       10000,
		dailyUsed:        3000,
		remainingDaily:   7000,
		monthlyLimit:     100000,
		monthlyUsed:      50000,
		remainingMonthly: 50000,
	}
	reports := fixedService(br).Reports(context.Background(), domusage.PeriodDay)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]

	if r.Provider() != provider.AzureOpenAI || r.Period() != domusage.PeriodDay {
		t.Errorf("unexpected provider/period %s %s", r.Provider(), r.Period())
	}
	dayStart := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if r.PeriodStart() != dayStart.UnixMilli() || r.PeriodEnd() != dayStart.Add(24*time.Hour).UnixMilli() {
		t.Errorf("unexpected bounds %d..%d", r.PeriodStart(), r.PeriodEnd())
	}
	if r.TokensUsed() != 3000 {
		t.Errorf("expected 3000 used, got %d", r.TokensUsed())
	}
	b := r.Budget()
	if b.TokensLimit() != 10000 || b.TokensRemaining() != 7000 || b.IsExhausted() {
		t.Errorf("unexpected budget %+v", b)
	}
	if b.ResetsAt() != r.PeriodEnd() {
		t.Errorf("budget should reset at period end")
	}
}

func TestReports_MonthlyPeriod(t *testing.T) {
	br := &mockBudgetReader{mode: provider.OpenAI, monthlyLimit: 1000, monthlyUsed: 1000, remainingMonthly: 0}
	r := fixedService(br).Reports(context.Background(), domusage.PeriodMonth)[0]

	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if r.PeriodStart() != monthStart.UnixMilli() || r.PeriodEnd() != monthStart.AddDate(0, 1, 0).UnixMilli() {
		t.Errorf("unexpected bounds %d..%d", r.PeriodStart(), r.PeriodEnd())
	}
	if !r.Budget().IsExhausted() {
		t.Error("expected exhausted budget")
	}
}

func TestReports_Unlimited(t *testing.T) {
	br := &mockBudgetReader{mode: provider.OpenAI, dailyUsed: 42, remainingDaily: -1}
	r := fixedService(br).Reports(context.Background(), domusage.PeriodDay)[0]

	if r.Budget().IsExhausted() || r.Budget().TokensLimit() != 0 {
		t.Errorf("unlimited budget must never be exhausted: %+v", r.Budget())
	}
	if r.TokensUsed() != 42 {
		t.Errorf("expected 42 used, got %d", r.TokensUsed())
	}
}

func TestReports_UnknownPeriodIsMonthly(t *testing.T) {
	br := &mockBudgetReader{mode: provider.OpenAI}
	r := fixedService(br).Reports(context.Background(), "total")[0]
	if r.Period() != domusage.PeriodMonth {
		t.Errorf("expected month, got %s", r.Period())
	}
}

func TestReports_PerProvider(t *testing.T) {
	svc := fixedService(
		&mockBudgetReader{mode: provider.AzureOpenAI},
		&mockBudgetReader{mode: provider.OpenAI},
	)
	reports := svc.Reports(context.Background(), domusage.PeriodDay)
	if len(reports) != 2 || reports[0].Provider() != provider.AzureOpenAI || reports[1].Provider() != provider.OpenAI {
		t.Errorf("unexpected reports %+v", reports)
	}
}

func TestReports_NoProviders(t *testing.T) {
	if got := New().Reports(context.Background(), domusage.PeriodDay); len(got) != 0 {
		t.Errorf("expected no reports, got %d", len(got))
	}
}
