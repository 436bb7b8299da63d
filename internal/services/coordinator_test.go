package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/core"
	"saldo/internal/store"
	"saldo/internal/store/memory"
	"saldo/internal/store/storetest"
)

func TestCreateTransactionMovesBalance(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)
		other := f.account(t, core.AccountSavings, 5000)

		in := f.create(t, a.ID, 2550, core.Income, "", jan15)
		assert.Equal(t, core.Cents(12550), f.balance(t, a.ID))
		assert.Equal(t, "u1", in.UserID)
		assert.Equal(t, core.PayOther, in.PaymentMethod)
		assert.Equal(t, int64(1), in.Version)

		f.create(t, a.ID, 550, core.Expense, "", jan15)
		assert.Equal(t, core.Cents(12000), f.balance(t, a.ID))
		assert.Equal(t, core.Cents(5000), f.balance(t, other.ID), "other accounts untouched")

		stored, err := s.GetTransaction(context.Background(), in.ID)
		require.NoError(t, err)
		assert.Equal(t, in.Amount, stored.Amount)
	})
}

func TestCreateTransactionDefaultsDateToToday(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 0)

	rec, err := f.coord.CreateTransaction(context.Background(), core.NewTransaction{
		AccountID: a.ID, Amount: core.Cents(100), Kind: core.Income,
	})
	require.NoError(t, err)
	assert.True(t, rec.Date.Equal(core.Today()))
}

func TestCreateTransactionInsufficientFunds(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)

		_, err := f.coord.CreateTransaction(context.Background(), core.NewTransaction{
			AccountID: a.ID, Amount: core.Cents(15000), Kind: core.Expense, Description: "rent",
		})
		require.ErrorIs(t, err, core.ErrInsufficientFunds)
		assert.Equal(t, core.Cents(10000), f.balance(t, a.ID))

		recs, err := s.ListTransactions(context.Background(), store.TransactionFilter{AccountID: a.ID})
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.Empty(t, f.publisher.eventTypes())
	})
}

func TestCreateTransactionExactBalanceAllowed(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountCash, 10000)

	f.create(t, a.ID, 10000, core.Expense, "", jan15)
	assert.True(t, f.balance(t, a.ID).IsZero())
}

func TestCreateTransactionCreditLimit(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixture(t, s)
		b := f.account(t, core.AccountCreditCard, 0)

		f.create(t, b.ID, 499900, core.Expense, "", jan15)
		assert.Equal(t, core.Cents(-499900), f.balance(t, b.ID))

		_, err := f.coord.CreateTransaction(context.Background(), core.NewTransaction{
			AccountID: b.ID, Amount: core.Cents(5000), Kind: core.Expense, Description: "dinner",
		})
		require.ErrorIs(t, err, core.ErrCreditLimitExceeded)
		assert.Equal(t, core.Cents(-499900), f.balance(t, b.ID))

		// Reaching the limit exactly is allowed.
		f.create(t, b.ID, 100, core.Expense, "", jan15)
		assert.Equal(t, core.Cents(-500000), f.balance(t, b.ID))
	})
}

func TestCreateTransactionCustomCreditLimit(t *testing.T) {
	s := memory.New()
	coord := NewCoordinator(s, CoordinatorOptions{CreditLimit: core.Cents(1000)})
	b := storetest.SeedAccount(t, s, "u1", core.AccountCreditCard, 0)

	_, err := coord.CreateTransaction(context.Background(), core.NewTransaction{
		AccountID: b.ID, Amount: core.Cents(1001), Kind: core.Expense,
	})
	assert.ErrorIs(t, err, core.ErrCreditLimitExceeded)
}

func TestCreateTransactionInactiveAndMissingAccount(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		closed, err := s.CreateAccount(ctx, core.Account{UserID: "u1", Name: "old", Type: core.AccountChecking, OpeningBalance: core.Cents(10000)})
		require.NoError(t, err)

		_, err = f.coord.CreateTransaction(ctx, core.NewTransaction{AccountID: closed.ID, Amount: core.Cents(100), Kind: core.Income})
		assert.ErrorIs(t, err, core.ErrInactive)
		assert.Equal(t, core.Cents(10000), f.balance(t, closed.ID))

		_, err = f.coord.CreateTransaction(ctx, core.NewTransaction{AccountID: "missing", Amount: core.Cents(100), Kind: core.Income})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestCreateTransactionValidation(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 10000)

	tests := []struct {
		name string
		in   core.NewTransaction
		want error
	}{
		{"zero amount", core.NewTransaction{AccountID: a.ID, Kind: core.Expense}, core.ErrInvalidAmount},
		{"negative amount", core.NewTransaction{AccountID: a.ID, Amount: core.Cents(-5), Kind: core.Expense}, core.ErrInvalidAmount},
		{"bad kind", core.NewTransaction{AccountID: a.ID, Amount: core.Cents(5), Kind: "gift"}, core.ErrInvalidInput},
		{"long description", core.NewTransaction{AccountID: a.ID, Amount: core.Cents(5), Kind: core.Income, Description: strings.Repeat("x", 201)}, core.ErrInvalidInput},
		{"bad payment method", core.NewTransaction{AccountID: a.ID, Amount: core.Cents(5), Kind: core.Income, PaymentMethod: "barter"}, core.ErrInvalidInput},
		{"bad recurrence", core.NewTransaction{AccountID: a.ID, Amount: core.Cents(5), Kind: core.Income, Recurrence: &core.Recurrence{Frequency: "hourly"}}, core.ErrInvalidInput},
		{"missing account", core.NewTransaction{Amount: core.Cents(5), Kind: core.Income}, core.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.CreateTransaction(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, core.Cents(10000), f.balance(t, a.ID))
}

func TestCreateTransactionRecurrenceNextDate(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 0)

	rec, err := f.coord.CreateTransaction(context.Background(), core.NewTransaction{
		AccountID: a.ID, Amount: core.Cents(100), Kind: core.Income,
		Date:       core.NewDate(2024, 1, 31),
		Recurrence: &core.Recurrence{Frequency: core.Monthly, Generated: 7},
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Recurrence)
	assert.True(t, core.NewDate(2024, 2, 29).Equal(rec.Recurrence.NextDate))
	assert.Equal(t, 0, rec.Recurrence.Generated)
}

func TestBudgetAccumulationAndAlerts(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 100000)
		b := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"cat1": 20000})

		f.create(t, a.ID, 5000, core.Expense, "cat1", jan15)
		assert.Equal(t, core.Cents(5000), f.spent(t, b.ID, "cat1"))
		alerts, err := f.budgets.Alerts(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, alerts)

		for i := 0; i < 3; i++ {
			f.create(t, a.ID, 5000, core.Expense, "cat1", jan15)
		}
		assert.Equal(t, core.Cents(20000), f.spent(t, b.ID, "cat1"))
		alerts, err = f.budgets.Alerts(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, alerts, "spent equal to allocation is not an alert")

		f.create(t, a.ID, 100, core.Expense, "cat1", jan15)
		alerts, err = f.budgets.Alerts(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, "cat1", alerts[0].CategoryID)

		// Income, uncategorized and out-of-window records never count.
		f.create(t, a.ID, 700, core.Income, "cat1", jan15)
		f.create(t, a.ID, 700, core.Expense, "", jan15)
		f.create(t, a.ID, 700, core.Expense, "cat1", janEnd)
		assert.Equal(t, core.Cents(20100), f.spent(t, b.ID, "cat1"))
	})
}

func TestAllCoveringBudgetsAccumulate(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 100000)
	monthly := storetest.SeedBudget(t, f.store, "u1", janStart, janEnd, 10000, map[string]int64{"food": 10000})
	yearly := storetest.SeedBudget(t, f.store, "u1", janStart, core.NewDate(2025, 1, 1), 100000, map[string]int64{"food": 100000})
	other := storetest.SeedBudget(t, f.store, "u2", janStart, janEnd, 10000, map[string]int64{"food": 10000})

	f.create(t, a.ID, 1234, core.Expense, "food", jan15)

	assert.Equal(t, core.Cents(1234), f.spent(t, monthly.ID, "food"))
	assert.Equal(t, core.Cents(1234), f.spent(t, yearly.ID, "food"))
	assert.True(t, f.spent(t, other.ID, "food").IsZero())
}

func TestCreateDeleteRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 30000)
		b := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000})

		rec := f.create(t, a.ID, 4200, core.Expense, "food", jan15)
		require.Equal(t, core.Cents(25800), f.balance(t, a.ID))

		deleted, err := f.coord.DeleteTransaction(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, deleted.ID)
		assert.Equal(t, core.Cents(30000), f.balance(t, a.ID))
		assert.True(t, f.spent(t, b.ID, "food").IsZero())

		_, err = s.GetTransaction(ctx, rec.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = f.budgets.Recalculate(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, f.spent(t, b.ID, "food").IsZero())

		_, err = f.coord.DeleteTransaction(ctx, rec.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Equal(t, core.Cents(30000), f.balance(t, a.ID))
	})
}

func TestDeleteIncomeReversesBalance(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 0)
	rec := f.create(t, a.ID, 900, core.Income, "", jan15)

	_, err := f.coord.DeleteTransaction(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, f.balance(t, a.ID).IsZero())
}

func TestUpdateDescriptionOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)
		b := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000})
		rec := f.create(t, a.ID, 1000, core.Expense, "food", jan15)

		desc := "groceries"
		updated, err := f.coord.UpdateTransaction(context.Background(), rec.ID, core.TransactionPatch{Description: &desc})
		require.NoError(t, err)

		assert.Equal(t, "groceries", updated.Description)
		assert.Equal(t, rec.Version+1, updated.Version)
		assert.Equal(t, core.Cents(9000), f.balance(t, a.ID))
		assert.Equal(t, core.Cents(1000), f.spent(t, b.ID, "food"))
	})
}

func TestUpdateEmptyPatchIsNoop(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)
		rec := f.create(t, a.ID, 1000, core.Expense, "", jan15)
		before := len(f.publisher.eventTypes())

		got, err := f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{})
		require.NoError(t, err)
		assert.Equal(t, rec.Version, got.Version)
		assert.Len(t, f.publisher.eventTypes(), before, "nothing committed, nothing announced")

		_, err = f.coord.UpdateTransaction(ctx, "missing", core.TransactionPatch{})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestUpdateAmountMovesBalanceAndBudget(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)
		b := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000})
		rec := f.create(t, a.ID, 1000, core.Expense, "food", jan15)

		amount := core.Cents(2500)
		_, err := f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, core.Cents(7500), f.balance(t, a.ID))
		assert.Equal(t, core.Cents(2500), f.spent(t, b.ID, "food"))

		// The whole balance can be spent by growing an existing expense.
		amount = core.Cents(10000)
		_, err = f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{Amount: &amount})
		require.NoError(t, err)
		assert.True(t, f.balance(t, a.ID).IsZero())

		amount = core.Cents(10001)
		_, err = f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{Amount: &amount})
		require.ErrorIs(t, err, core.ErrInsufficientFunds)
		assert.True(t, f.balance(t, a.ID).IsZero())
		assert.Equal(t, core.Cents(10000), f.spent(t, b.ID, "food"))

		check, err := f.queries.VerifyAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, check.Consistent())
	})
}

func TestUpdateKindFlipsBalanceAndBudget(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 10000)
	b := storetest.SeedBudget(t, f.store, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000})
	rec := f.create(t, a.ID, 1000, core.Expense, "food", jan15)

	income := core.Income
	_, err := f.coord.UpdateTransaction(context.Background(), rec.ID, core.TransactionPatch{Kind: &income})
	require.NoError(t, err)

	assert.Equal(t, core.Cents(11000), f.balance(t, a.ID))
	assert.True(t, f.spent(t, b.ID, "food").IsZero())
}

func TestUpdateCategoryAndDateMoveContribution(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)
		jan := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000, "fun": 5000})
		feb := storetest.SeedBudget(t, s, "u1", janEnd, core.NewDate(2024, 3, 1), 50000, map[string]int64{"fun": 5000})
		rec := f.create(t, a.ID, 1000, core.Expense, "food", jan15)

		fun := "fun"
		_, err := f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{CategoryID: &fun})
		require.NoError(t, err)
		assert.True(t, f.spent(t, jan.ID, "food").IsZero())
		assert.Equal(t, core.Cents(1000), f.spent(t, jan.ID, "fun"))

		feb10 := core.NewDate(2024, 2, 10)
		_, err = f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{Date: &feb10})
		require.NoError(t, err)
		assert.True(t, f.spent(t, jan.ID, "fun").IsZero())
		assert.Equal(t, core.Cents(1000), f.spent(t, feb.ID, "fun"))
		assert.Equal(t, core.Cents(9000), f.balance(t, a.ID))
	})
}

func TestUpdateTransactionNotFoundAndInvalid(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 10000)
	rec := f.create(t, a.ID, 1000, core.Expense, "", jan15)

	desc := "x"
	_, err := f.coord.UpdateTransaction(context.Background(), "missing", core.TransactionPatch{Description: &desc})
	assert.ErrorIs(t, err, core.ErrNotFound)

	zero := core.Cents(0)
	_, err = f.coord.UpdateTransaction(context.Background(), rec.ID, core.TransactionPatch{Amount: &zero})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	long := strings.Repeat("y", 201)
	_, err = f.coord.UpdateTransaction(context.Background(), rec.ID, core.TransactionPatch{Description: &long})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	got, err := f.store.GetTransaction(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)
}

func TestUpdateAttachesRecurrence(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 0)
	rec := f.create(t, a.ID, 1000, core.Income, "", core.NewDate(2024, 3, 10))

	updated, err := f.coord.UpdateTransaction(context.Background(), rec.ID, core.TransactionPatch{
		Recurrence: &core.Recurrence{Frequency: core.Weekly},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Recurrence)
	assert.True(t, core.NewDate(2024, 3, 17).Equal(updated.Recurrence.NextDate))
	assert.Equal(t, core.Cents(1000), f.balance(t, a.ID))
}

func TestTransferBetweenAccounts(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 10000)
		c := f.account(t, core.AccountSavings, 2000)

		res, err := f.coord.TransferBetweenAccounts(ctx, a.ID, c.ID, core.Cents(5000))
		require.NoError(t, err)
		assert.Equal(t, core.Cents(5000), res.From.Balance)
		assert.Equal(t, core.Cents(7000), res.To.Balance)
		assert.Equal(t, core.Cents(5000), f.balance(t, a.ID))
		assert.Equal(t, core.Cents(7000), f.balance(t, c.ID))

		recs, err := s.ListTransactions(ctx, store.TransactionFilter{UserID: "u1"})
		require.NoError(t, err)
		assert.Empty(t, recs, "transfers write no ledger records")

		_, err = f.coord.TransferBetweenAccounts(ctx, a.ID, "missing", core.Cents(5000))
		require.ErrorIs(t, err, core.ErrNotFound)
		assert.Equal(t, core.Cents(5000), f.balance(t, a.ID))

		for _, id := range []string{a.ID, c.ID} {
			check, err := f.queries.VerifyAccount(ctx, id)
			require.NoError(t, err)
			assert.True(t, check.Consistent(), "account %s drift %s", id, check.Drift)
		}
	})
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 200000000)
	c := f.account(t, core.AccountSavings, 0)
	ctx := context.Background()

	tests := []struct {
		name     string
		from, to string
		amount   int64
		want     error
		msg      string
	}{
		{"same account", a.ID, a.ID, 100, core.ErrInvalidAccountPair, ""},
		{"zero amount", a.ID, c.ID, 0, core.ErrInvalidAmount, ""},
		{"over limit", a.ID, c.ID, 100000001, core.ErrTransferLimitExceeded, ""},
		{"insufficient", c.ID, a.ID, 1, core.ErrInsufficientFunds, "insufficient balance"},
		{"missing source", "missing", c.ID, 1, core.ErrNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.TransferBetweenAccounts(ctx, tt.from, tt.to, core.Cents(tt.amount))
			require.ErrorIs(t, err, tt.want)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}

	_, err := f.coord.TransferBetweenAccounts(ctx, a.ID, c.ID, core.Cents(100000000))
	require.NoError(t, err, "the limit itself is allowed")
	assert.Equal(t, core.Cents(100000000), f.balance(t, c.ID))
}

func TestConcurrentCreatesKeepBalanceConsistent(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		f := newFixture(t, s)
		a := f.account(t, core.AccountChecking, 100000)
		b := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 100000, map[string]int64{"food": 100000})

		const workers = 40
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				kind := core.Income
				if i%2 == 0 {
					kind = core.Expense
				}
				_, err := f.coord.CreateTransaction(ctx, core.NewTransaction{
					AccountID: a.ID, Amount: core.Cents(100), Kind: kind, CategoryID: "food", Date: jan15,
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, core.Cents(100000), f.balance(t, a.ID))
		assert.Equal(t, core.Cents(100*workers/2), f.spent(t, b.ID, "food"))

		check, err := f.queries.VerifyAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, check.Consistent())
	})
}

func TestMidUnitFailureAbortsEverything(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		fs := &faultyStore{Store: s, adjustErr: errors.New("disk full")}
		coord := NewCoordinator(fs, CoordinatorOptions{})
		a := storetest.SeedAccount(t, s, "u1", core.AccountChecking, 10000)

		_, err := coord.CreateTransaction(ctx, core.NewTransaction{AccountID: a.ID, Amount: core.Cents(100), Kind: core.Expense})
		require.ErrorIs(t, err, core.ErrAborted)
		assert.Contains(t, err.Error(), "disk full")

		recs, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: a.ID})
		require.NoError(t, err)
		assert.Empty(t, recs, "the inserted record is rolled back")

		got, err := s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, core.Cents(10000), got.Balance)
		assert.Equal(t, a.Version, got.Version)
	})
}

func TestConflictsAreRetried(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	fs := &faultyStore{Store: s, conflicts: 2}
	coord := NewCoordinator(fs, CoordinatorOptions{ConflictRetries: 3})
	a := storetest.SeedAccount(t, s, "u1", core.AccountChecking, 0)

	_, err := coord.CreateTransaction(ctx, core.NewTransaction{AccountID: a.ID, Amount: core.Cents(100), Kind: core.Income})
	require.NoError(t, err)
	assert.Equal(t, 3, fs.adjustCalls)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(100), got.Balance)

	recs, err := s.ListTransactions(ctx, store.TransactionFilter{AccountID: a.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1, "failed attempts leave no records behind")
}

func TestConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	fs := &faultyStore{Store: s, conflicts: 100}
	coord := NewCoordinator(fs, CoordinatorOptions{ConflictRetries: 2})
	a := storetest.SeedAccount(t, s, "u1", core.AccountChecking, 0)

	_, err := coord.CreateTransaction(ctx, core.NewTransaction{AccountID: a.ID, Amount: core.Cents(100), Kind: core.Income})
	require.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 3, fs.adjustCalls)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func TestBudgetFailureDoesNotFailCreate(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{}
		fs := &faultyStore{Store: s, incrementErr: errors.New("budget table locked")}
		coord := NewCoordinator(fs, CoordinatorOptions{Publisher: pub})
		budgets := NewBudgetService(s, nil, 1)
		a := storetest.SeedAccount(t, s, "u1", core.AccountChecking, 10000)
		b := storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000})

		rec, err := coord.CreateTransaction(ctx, core.NewTransaction{
			AccountID: a.ID, Amount: core.Cents(3000), Kind: core.Expense, CategoryID: "food", Date: jan15,
		})
		require.NoError(t, err)

		got, err := s.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, core.Cents(7000), got.Balance)

		bud, err := s.GetBudget(ctx, b.ID)
		require.NoError(t, err)
		alloc, _ := bud.Allocation("food")
		assert.True(t, alloc.Spent.IsZero(), "budget step failed")

		reqs := pub.reconcileRequests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "food", reqs[0].CategoryID)
		assert.True(t, rec.Date.Equal(reqs[0].Date))
		assert.Contains(t, reqs[0].Reason, string(core.KindBudgetUpdateFailed))

		n, err := budgets.RecalculateCovering(ctx, reqs[0].UserID, reqs[0].CategoryID, reqs[0].Date)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		bud, err = s.GetBudget(ctx, b.ID)
		require.NoError(t, err)
		alloc, _ = bud.Allocation("food")
		assert.Equal(t, core.Cents(3000), alloc.Spent)
	})
}

func TestUpdateBudgetFailureAbortsUpdate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	f := newFixture(t, s)
	a := f.account(t, core.AccountChecking, 10000)
	storetest.SeedBudget(t, s, "u1", janStart, janEnd, 50000, map[string]int64{"food": 20000})
	rec := f.create(t, a.ID, 1000, core.Expense, "food", jan15)

	fs := &faultyStore{Store: s, incrementErr: errors.New("boom")}
	coord := NewCoordinator(fs, CoordinatorOptions{})
	amount := core.Cents(2000)
	_, err := coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{Amount: &amount})
	require.ErrorIs(t, err, core.ErrAborted)

	got, err := s.GetTransaction(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(1000), got.Amount)
	assert.Equal(t, core.Cents(9000), f.balance(t, a.ID))
}

func TestLedgerEventsPublished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 10000)

	rec := f.create(t, a.ID, 100, core.Expense, "", jan15)
	desc := "changed"
	_, err := f.coord.UpdateTransaction(ctx, rec.ID, core.TransactionPatch{Description: &desc})
	require.NoError(t, err)
	_, err = f.coord.DeleteTransaction(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{
		core.EventTransactionCreated,
		core.EventTransactionUpdated,
		core.EventTransactionDeleted,
	}, f.publisher.eventTypes())
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, memory.New())
	f.publisher.err = errors.New("broker down")
	a := f.account(t, core.AccountChecking, 0)

	f.create(t, a.ID, 100, core.Income, "", jan15)
	assert.Equal(t, core.Cents(100), f.balance(t, a.ID))
}

func TestCommitInvalidatesNetWorth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.New())
	a := f.account(t, core.AccountChecking, 10000)

	nw, err := f.queries.NetWorth(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.Cents(10000), nw)

	f.create(t, a.ID, 2500, core.Income, "", jan15)
	nw, err = f.queries.NetWorth(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.Cents(12500), nw)
}
