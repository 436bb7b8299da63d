package store

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"saldo/internal/core"
)

// NewID returns a fresh entity identifier.
func NewID() string { return uuid.NewString() }

// PrepareAccount validates a and fills identity, version and timestamps for
// insertion. The cached balance starts at the opening balance.
func PrepareAccount(a core.Account, now time.Time) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	a.Balance = a.OpeningBalance
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	return a, nil
}

// PrepareBudget validates b and fills identity, version and timestamps for
// insertion.
func PrepareBudget(b core.Budget, now time.Time) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	if b.ID == "" {
		b.ID = NewID()
	}
	b.Categories = append([]core.CategoryAllocation(nil), b.Categories...)
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	return b, nil
}

// SortTransactions orders records by date, creation time, then id.
func SortTransactions(ts []core.Transaction) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ClampSpent applies delta to spent without going below zero.
func ClampSpent(spent, delta core.Money) core.Money {
	next := spent.Add(delta)
	if next.IsNegative() {
		return core.Money{}
	}
	return next
}
