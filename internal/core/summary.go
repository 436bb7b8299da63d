package core

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	CategoryID string
	Amount     Money
}

// Metrics summarizes a user's ledger over a date range.
type Metrics struct {
	Start       Date
	End         Date
	Income      Money
	Expenses    Money
	Net         Money
	SavingsRate float64 // percent of income kept, 0 without income
	ByCategory  []CategoryAmount
}

// BalanceCheck compares an account's cached balance with its replay.
type BalanceCheck struct {
	AccountID string
	Cached    Money
	Replayed  Money
	Drift     Money
}

// Consistent reports whether the cache matches the replay.
func (c BalanceCheck) Consistent() bool { return c.Drift.IsZero() }
