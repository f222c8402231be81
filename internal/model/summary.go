package model

import "time"

// Summary aggregates a user's transaction history. It is always derived from
// the local store on demand, never cached.
type Summary struct {
	TotalIncome   float64
	TotalExpenses float64
	Balance       float64

	ThisMonthIncome   float64
	ThisMonthExpenses float64

	TransactionCount int

	// Per-category totals keyed by category id.
	IncomeByCategory   map[string]float64
	ExpensesByCategory map[string]float64
}

// Summarize computes the financial summary over the given transactions.
// "This month" means the calendar month and year of now; the occurrence date
// decides membership, not the creation time. Soft-deleted rows must already
// be filtered out by the caller's query.
func Summarize(transactions []*Transaction, now time.Time) Summary {
	s := Summary{
		TransactionCount:   len(transactions),
		IncomeByCategory:   make(map[string]float64),
		ExpensesByCategory: make(map[string]float64),
	}

	month, year := now.Month(), now.Year()

	for _, t := range transactions {
		thisMonth := t.Date.Month() == month && t.Date.Year() == year

		if t.Kind == KindIncome {
			s.TotalIncome += t.Amount
			if thisMonth {
				s.ThisMonthIncome += t.Amount
			}
			s.IncomeByCategory[t.Category] += t.Amount
		} else {
			s.TotalExpenses += t.Amount
			if thisMonth {
				s.ThisMonthExpenses += t.Amount
			}
			s.ExpensesByCategory[t.Category] += t.Amount
		}
	}

	s.Balance = s.TotalIncome - s.TotalExpenses
	return s
}
