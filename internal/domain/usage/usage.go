package usage

import "github.com/jordnlvr/hybridkb/internal/domain/provider"

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// Budget tracks embedding token budget state for one period.
type Budget struct {
	tokensLimit     int64
	tokensRemaining int64
	isExhausted     bool
	resetsAt        int64 // unix millis
}

// NewBudget creates a Budget snapshot.
func NewBudget(limit, remaining int64, isExhausted bool, resetsAt int64) Budget {
	return Budget{
		tokensLimit:     limit,
		tokensRemaining: remaining,
		isExhausted:     isExhausted,
		resetsAt:        resetsAt,
	}
}

// TokensLimit returns the token cap. Zero means unlimited.
func (b Budget) TokensLimit() int64 { return b.tokensLimit }

// TokensRemaining returns tokens left.
func (b Budget) TokensRemaining() int64 { return b.tokensRemaining }

// IsExhausted reports whether the budget is spent.
func (b Budget) IsExhausted() bool { return b.isExhausted }

// ResetsAt returns the reset timestamp (unix millis).
func (b Budget) ResetsAt() int64 { return b.resetsAt }

// Report is the token usage of one embedding provider for a period.
type Report struct {
	provider    provider.Mode
	period      Period
	periodStart int64
	periodEnd   int64
	tokensUsed  int64
	budget      Budget
}

// NewReport creates a usage report.
func NewReport(p provider.Mode, period Period, start, end, used int64, b Budget) Report {
	return Report{
		provider:    p,
		period:      period,
		periodStart: start,
		periodEnd:   end,
		tokensUsed:  used,
		budget:      b,
	}
}

// Provider returns the provider the report belongs to.
func (r *Report) Provider() provider.Mode { return r.provider }

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// PeriodStart returns the period start timestamp (unix millis).
func (r *Report) PeriodStart() int64 { return r.periodStart }

// PeriodEnd returns the period end timestamp (unix millis).
func (r *Report) PeriodEnd() int64 { return r.periodEnd }

// TokensUsed returns the tokens consumed in the period.
func (r *Report) TokensUsed() int64 { return r.tokensUsed }

// Budget returns the budget status.
func (r *Report) Budget() Budget { return r.budget }
