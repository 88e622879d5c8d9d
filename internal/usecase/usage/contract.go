package usage

import "github.com/jordnlvr/hybridkb/internal/domain/provider"

// BudgetReader provides read-only access to one provider's token budget.
type BudgetReader interface {
	Provider() provider.Mode
	DailyLimit() int64
	MonthlyLimit() int64
	DailyUsed() int64
	MonthlyUsed() int64
	RemainingDaily() int64
	RemainingMonthly() int64
}
