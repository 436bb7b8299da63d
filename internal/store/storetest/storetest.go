// Package storetest holds the behaviour every store.Store implementation
// must share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/core"
	"saldo/internal/store"
)

// Factory returns an empty store. Cleanup is the caller's job.
type Factory func(t *testing.T) store.Store

var errBoom = errors.New("boom")

// Run executes the shared conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetAccount", func(t *testing.T) { testCreateAccount(t, newStore(t)) })
	t.Run("AdjustBalanceVersioning", func(t *testing.T) { testAdjustBalance(t, newStore(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("TransactionLifecycle", func(t *testing.T) { testTransactionLifecycle(t, newStore(t)) })
	t.Run("ListTransactionsFilter", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("DueRecurring", func(t *testing.T) { testDueRecurring(t, newStore(t)) })
	t.Run("BudgetSpent", func(t *testing.T) { testBudgetSpent(t, newStore(t)) })
	t.Run("Transfers", func(t *testing.T) { testTransfers(t, newStore(t)) })
}

// SeedAccount creates an active account for user with the given opening
// balance in cents.
func SeedAccount(t *testing.T, s store.Store, user string, typ core.AccountType, opening int64) core.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), core.Account{
		UserID:         user,
		Name:           string(typ) + " account",
		Type:           typ,
		OpeningBalance: core.Cents(opening),
		Active:         true,
	})
	require.NoError(t, err)
	return a
}

// SeedBudget creates an active budget allocating each category.
func SeedBudget(t *testing.T, s store.Store, user string, start, end core.Date, total int64, allocs map[string]int64) core.Budget {
	t.Helper()
	b := core.Budget{
		UserID:      user,
		Name:        "budget",
		StartDate:   start,
		EndDate:     end,
		TotalAmount: core.Cents(total),
		Active:      true,
	}
	for cat, amt := range allocs {
		b.Categories = append(b.Categories, core.CategoryAllocation{CategoryID: cat, Allocated: core.Cents(amt)})
	}
	b, err := s.CreateBudget(context.Background(), b)
	require.NoError(t, err)
	return b
}

func ledgerRecord(a core.Account, amount int64, kind core.Kind, cat string, day core.Date) core.Transaction {
	return core.Transaction{
		ID:            store.NewID(),
		UserID:        a.UserID,
		AccountID:     a.ID,
		Amount:        core.Cents(amount),
		Kind:          kind,
		CategoryID:    cat,
		Description:   "test",
		Date:          day,
		PaymentMethod: core.PayOther,
		Version:       1,
	}
}

func testCreateAccount(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 10000)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, core.Cents(10000), a.Balance)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Balance, got.Balance)
	assert.Equal(t, a.OpeningBalance, got.OpeningBalance)
	assert.True(t, got.Active)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	SeedAccount(t, s, "u1", core.AccountSavings, 0)
	SeedAccount(t, s, "u2", core.AccountCash, 0)
	list, err := s.ListAccountsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.CreateAccount(ctx, core.Account{UserID: "u1", Name: "x", Type: "bogus"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func testAdjustBalance(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 10000)

	err := s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		updated, err := tx.AdjustBalance(ctx, a.ID, core.Cents(-2500), a.Version)
		if err != nil {
			return err
		}
		assert.Equal(t, core.Cents(7500), updated.Balance)
		assert.Equal(t, a.Version+1, updated.Version)
		return nil
	})
	require.NoError(t, err)

	err = s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustBalance(ctx, a.ID, core.Cents(100), a.Version)
		return err
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(7500), got.Balance)
	assert.Equal(t, a.Version+1, got.Version)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 10000)
	rec := ledgerRecord(a, 500, core.Expense, "food", core.NewDate(2024, 1, 10))

	err := s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, a.ID, rec.Signed(), a.Version); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(10000), got.Balance)
	assert.Equal(t, a.Version, got.Version)

	_, err = s.GetTransaction(ctx, rec.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testTransactionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 0)
	rec := ledgerRecord(a, 1250, core.Expense, "food", core.NewDate(2024, 3, 5))
	rec.Recurrence = &core.Recurrence{Frequency: core.Monthly, NextDate: core.NewDate(2024, 4, 5), MaxOccurrences: 3}

	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		return tx.InsertTransaction(ctx, rec)
	}))

	got, err := s.GetTransaction(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Amount, got.Amount)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, "food", got.CategoryID)
	assert.True(t, rec.Date.Equal(got.Date))
	require.NotNil(t, got.Recurrence)
	assert.Equal(t, core.Monthly, got.Recurrence.Frequency)
	assert.True(t, core.NewDate(2024, 4, 5).Equal(got.Recurrence.NextDate))
	assert.Equal(t, 3, got.Recurrence.MaxOccurrences)

	amount := core.Cents(900)
	desc := "lunch"
	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		patched, err := tx.PatchTransaction(ctx, rec.ID, core.TransactionPatch{Amount: &amount, Description: &desc, ClearRecurrence: true})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), patched.Version)
		return nil
	}))

	got, err = s.GetTransaction(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, amount, got.Amount)
	assert.Equal(t, "lunch", got.Description)
	assert.Nil(t, got.Recurrence)
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		return tx.DeleteTransaction(ctx, rec.ID)
	}))
	_, err = s.GetTransaction(ctx, rec.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		return tx.DeleteTransaction(ctx, rec.ID)
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 0)
	b := SeedAccount(t, s, "u2", core.AccountChecking, 0)

	recs := []core.Transaction{
		ledgerRecord(a, 100, core.Expense, "food", core.NewDate(2024, 1, 20)),
		ledgerRecord(a, 200, core.Income, "", core.NewDate(2024, 1, 5)),
		ledgerRecord(a, 300, core.Expense, "rent", core.NewDate(2024, 2, 1)),
		ledgerRecord(b, 400, core.Expense, "food", core.NewDate(2024, 1, 10)),
	}
	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		for _, r := range recs {
			if err := tx.InsertTransaction(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := s.ListTransactions(ctx, store.TransactionFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(200), all[0].Amount.Cents)
	assert.Equal(t, int64(100), all[1].Amount.Cents)
	assert.Equal(t, int64(300), all[2].Amount.Cents)

	jan, err := s.ListTransactions(ctx, store.TransactionFilter{
		UserID: "u1",
		From:   core.NewDate(2024, 1, 1),
		To:     core.NewDate(2024, 1, 31),
	})
	require.NoError(t, err)
	assert.Len(t, jan, 2)

	food, err := s.ListTransactions(ctx, store.TransactionFilter{CategoryID: "food", Kind: core.Expense})
	require.NoError(t, err)
	assert.Len(t, food, 2)

	byAccount, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: b.ID})
	require.NoError(t, err)
	assert.Len(t, byAccount, 1)
}

func testDueRecurring(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 0)

	due := ledgerRecord(a, 100, core.Expense, "", core.NewDate(2024, 1, 1))
	due.Recurrence = &core.Recurrence{Frequency: core.Monthly, NextDate: core.NewDate(2024, 2, 1)}
	later := ledgerRecord(a, 100, core.Expense, "", core.NewDate(2024, 1, 15))
	later.Recurrence = &core.Recurrence{Frequency: core.Monthly, NextDate: core.NewDate(2024, 2, 15)}
	plain := ledgerRecord(a, 100, core.Expense, "", core.NewDate(2024, 1, 1))

	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		for _, r := range []core.Transaction{due, later, plain} {
			if err := tx.InsertTransaction(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := s.ListDueRecurring(ctx, core.NewDate(2024, 2, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	got, err = s.ListDueRecurring(ctx, core.NewDate(2024, 3, 1))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func testBudgetSpent(t *testing.T, s store.Store) {
	ctx := context.Background()
	b := SeedBudget(t, s, "u1", core.NewDate(2024, 1, 1), core.NewDate(2024, 2, 1), 50000,
		map[string]int64{"food": 20000, "rent": 30000})
	SeedBudget(t, s, "u1", core.NewDate(2024, 2, 1), core.NewDate(2024, 3, 1), 50000,
		map[string]int64{"food": 20000})
	inactive := core.Budget{
		UserID: "u1", Name: "off", StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 2, 1),
		Categories: []core.CategoryAllocation{{CategoryID: "food", Allocated: core.Cents(100)}},
	}
	_, err := s.CreateBudget(ctx, inactive)
	require.NoError(t, err)

	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		covering, err := tx.FindCoveringBudgets(ctx, "u1", "food", core.NewDate(2024, 1, 31))
		if err != nil {
			return err
		}
		require.Len(t, covering, 1)
		assert.Equal(t, b.ID, covering[0].ID)

		none, err := tx.FindCoveringBudgets(ctx, "u1", "travel", core.NewDate(2024, 1, 15))
		if err != nil {
			return err
		}
		assert.Empty(t, none)

		if err := tx.IncrementSpent(ctx, b.ID, "food", core.Cents(1500)); err != nil {
			return err
		}
		return tx.IncrementSpent(ctx, b.ID, "rent", core.Cents(-700))
	}))

	got, err := s.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	food, _ := got.Allocation("food")
	rent, _ := got.Allocation("rent")
	assert.Equal(t, core.Cents(1500), food.Spent)
	assert.Equal(t, core.Cents(0), rent.Spent, "spent never goes below zero")

	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		return tx.SetSpent(ctx, b.ID, map[string]core.Money{"food": core.Cents(42)})
	}))
	got, err = s.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	food, _ = got.Allocation("food")
	assert.Equal(t, core.Cents(42), food.Spent)

	active, err := s.ListBudgets(ctx, store.BudgetFilter{UserID: "u1", ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)
	all, err := s.ListBudgets(ctx, store.BudgetFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testTransfers(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := SeedAccount(t, s, "u1", core.AccountChecking, 0)
	b := SeedAccount(t, s, "u1", core.AccountSavings, 0)
	c := SeedAccount(t, s, "u1", core.AccountCash, 0)

	require.NoError(t, s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		if err := tx.InsertTransfer(ctx, core.Transfer{ID: store.NewID(), UserID: "u1", FromAccountID: a.ID, ToAccountID: b.ID, Amount: core.Cents(100)}); err != nil {
			return err
		}
		return tx.InsertTransfer(ctx, core.Transfer{ID: store.NewID(), UserID: "u1", FromAccountID: b.ID, ToAccountID: c.ID, Amount: core.Cents(50)})
	}))

	fromA, err := s.ListTransfers(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, fromA, 1)
	viaB, err := s.ListTransfers(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, viaB, 2)
}
