// Package store declares the persistence ports the engine depends on.
//
// Balance and spent fields are only ever written through a Tx obtained from
// Store.WithAtomicUnit; the structural writes on Store exist for the CRUD
// collaborators that own accounts and budgets.
package store

import (
	"context"

	"saldo/internal/core"
)

type (
	// TransactionFilter selects ledger records. Zero values match everything.
	TransactionFilter struct {
		UserID     string
		AccountID  string
		CategoryID string
		Kind       core.Kind
		From       core.Date // inclusive
		To         core.Date // inclusive
	}

	// BudgetFilter selects budgets. Zero values match everything.
	BudgetFilter struct {
		UserID     string
		ActiveOnly bool
	}

	// Reader is the read side shared by stores and atomic units.
	Reader interface {
		GetAccount(ctx context.Context, id string) (core.Account, error)
		ListAccountsByUser(ctx context.Context, userID string) ([]core.Account, error)
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// ListTransactions returns matches ordered by date, then creation time.
		ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
		// ListDueRecurring returns records whose next occurrence is on or before day.
		ListDueRecurring(ctx context.Context, day core.Date) ([]core.Transaction, error)
		GetBudget(ctx context.Context, id string) (core.Budget, error)
		ListBudgets(ctx context.Context, f BudgetFilter) ([]core.Budget, error)
		ListTransfers(ctx context.Context, accountID string) ([]core.Transfer, error)
	}

	// Tx is the view of the store inside one atomic unit. Every write is
	// discarded unless the unit commits.
	Tx interface {
		Reader

		// AdjustBalance adds delta to the balance when the stored version
		// equals expectedVersion, bumping the version. A mismatch yields
		// core.ErrConflict.
		AdjustBalance(ctx context.Context, id string, delta core.Money, expectedVersion int64) (core.Account, error)

		InsertTransaction(ctx context.Context, t core.Transaction) error
		// PatchTransaction applies p and bumps the record version.
		PatchTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id string) error

		InsertTransfer(ctx context.Context, t core.Transfer) error

		// FindCoveringBudgets returns the user's active budgets whose window
		// contains day and that allocate categoryID.
		FindCoveringBudgets(ctx context.Context, userID, categoryID string, day core.Date) ([]core.Budget, error)
		// IncrementSpent adds delta to one allocation, clamping at zero.
		IncrementSpent(ctx context.Context, budgetID, categoryID string, delta core.Money) error
		// SetSpent overwrites the spent amount of the listed allocations.
		SetSpent(ctx context.Context, budgetID string, spent map[string]core.Money) error
	}

	// UnitOfWork runs fn as one all-or-nothing unit. Units never nest.
	UnitOfWork interface {
		WithAtomicUnit(ctx context.Context, fn func(tx Tx) error) error
	}

	Store interface {
		Reader
		UnitOfWork

		CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
		CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error)
		Close() error
	}
)

// Match reports whether t satisfies the filter.
func (f TransactionFilter) Match(t core.Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.CategoryID != "" && t.CategoryID != f.CategoryID {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(f.To) {
		return false
	}
	return true
}
