package usage

import (
	"context"
	"time"

	domusage "github.com/jordnlvr/hybridkb/internal/domain/usage"
)

// Service handles usage reporting for the remote embedding providers.
type Service struct {
	readers []BudgetReader
	now     func() time.Time
}

// New creates a Service over the budget of each remote provider.
func New(readers ...BudgetReader) *Service {
	return &Service{readers: readers, now: time.Now}
}

// Reports builds one report per provider for the given period.
func (s *Service) Reports(_ context.Context, period domusage.Period) []domusage.Report {
	out := make([]domusage.Report, 0, len(s.readers))
	for _, br := range s.readers {
		out = append(out, s.report(br, period))
	}
	return out
}

func (s *Service) report(br BudgetReader, period domusage.Period) domusage.Report {
	now := s.now().UTC()
	var start, end time.Time
	var limit, used, remaining int64

	switch period {
	case domusage.PeriodDay:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.Add(24 * time.Hour)
		limit, used, remaining = br.DailyLimit(), br.DailyUsed(), br.RemainingDaily()
	default:
		period = domusage.PeriodMonth
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
		limit, used, remaining = br.MonthlyLimit(), br.MonthlyUsed(), br.RemainingMonthly()
	}

	// remaining is negative when the period is unlimited
	exhausted := limit > 0 && remaining == 0
	b := domusage.NewBudget(limit, remaining, exhausted, end.UnixMilli())

	return domusage.NewReport(br.Provider(), period, start.UnixMilli(), end.UnixMilli(), used, b)
}
