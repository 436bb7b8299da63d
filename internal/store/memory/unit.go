package memory

import (
	"context"
	"time"

	"saldo/internal/core"
	"saldo/internal/store"
)

// unit is the store.Tx handed to an atomic unit. It writes to a private copy
// of the state.
type unit struct {
	st  *state
	now func() time.Time
}

var _ store.Tx = (*unit)(nil)

func (u *unit) GetAccount(_ context.Context, id string) (core.Account, error) {
	return u.st.getAccount(id)
}

func (u *unit) ListAccountsByUser(_ context.Context, userID string) ([]core.Account, error) {
	return u.st.listAccountsByUser(userID), nil
}

func (u *unit) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	return u.st.getTransaction(id)
}

func (u *unit) ListTransactions(_ context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	return u.st.listTransactions(f), nil
}

func (u *unit) ListDueRecurring(_ context.Context, day core.Date) ([]core.Transaction, error) {
	return u.st.listDueRecurring(day), nil
}

func (u *unit) GetBudget(_ context.Context, id string) (core.Budget, error) {
	return u.st.getBudget(id)
}

func (u *unit) ListBudgets(_ context.Context, f store.BudgetFilter) ([]core.Budget, error) {
	return u.st.listBudgets(f), nil
}

func (u *unit) ListTransfers(_ context.Context, accountID string) ([]core.Transfer, error) {
	return u.st.listTransfers(accountID), nil
}

func (u *unit) AdjustBalance(_ context.Context, id string, delta core.Money, expectedVersion int64) (core.Account, error) {
	a, err := u.st.getAccount(id)
	if err != nil {
		return core.Account{}, err
	}
	if a.Version != expectedVersion {
		return core.Account{}, core.Conflict("account", id)
	}
	a.Balance = a.Balance.Add(delta)
	a.Version++
	a.UpdatedAt = u.now()
	u.st.accounts[id] = a
	return a, nil
}

func (u *unit) InsertTransaction(_ context.Context, t core.Transaction) error {
	if _, exists := u.st.txs[t.ID]; exists {
		return core.NewError(core.KindInvalidInput, "id", "transaction "+t.ID+" already exists")
	}
	if _, ok := u.st.accounts[t.AccountID]; !ok {
		return core.NotFound("account", t.AccountID)
	}
	u.st.txs[t.ID] = copyTx(t)
	return nil
}

func (u *unit) PatchTransaction(_ context.Context, id string, p core.TransactionPatch) (core.Transaction, error) {
	t, ok := u.st.txs[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	t = p.Apply(copyTx(t))
	t.Version++
	t.UpdatedAt = u.now()
	u.st.txs[id] = t
	return copyTx(t), nil
}

func (u *unit) DeleteTransaction(_ context.Context, id string) error {
	if _, ok := u.st.txs[id]; !ok {
		return core.NotFound("transaction", id)
	}
	delete(u.st.txs, id)
	return nil
}

func (u *unit) InsertTransfer(_ context.Context, t core.Transfer) error {
	u.st.transfers = append(u.st.transfers, t)
	return nil
}

func (u *unit) FindCoveringBudgets(_ context.Context, userID, categoryID string, day core.Date) ([]core.Budget, error) {
	out := make([]core.Budget, 0)
	for _, b := range u.st.listBudgets(store.BudgetFilter{UserID: userID, ActiveOnly: true}) {
		if !b.Covers(day) {
			continue
		}
		if _, ok := b.Allocation(categoryID); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (u *unit) IncrementSpent(_ context.Context, budgetID, categoryID string, delta core.Money) error {
	b, ok := u.st.budgets[budgetID]
	if !ok {
		return core.NotFound("budget", budgetID)
	}
	b = copyBudget(b)
	for i := range b.Categories {
		if b.Categories[i].CategoryID == categoryID {
			b.Categories[i].Spent = store.ClampSpent(b.Categories[i].Spent, delta)
			b.Version++
			b.UpdatedAt = u.now()
			u.st.budgets[budgetID] = b
			return nil
		}
	}
	return core.NotFound("budget category", budgetID+"/"+categoryID)
}

func (u *unit) SetSpent(_ context.Context, budgetID string, spent map[string]core.Money) error {
	b, ok := u.st.budgets[budgetID]
	if !ok {
		return core.NotFound("budget", budgetID)
	}
	b = copyBudget(b)
	for i := range b.Categories {
		if v, ok := spent[b.Categories[i].CategoryID]; ok {
			if v.IsNegative() {
				v = core.Money{}
			}
			b.Categories[i].Spent = v
		}
	}
	b.Version++
	b.UpdatedAt = u.now()
	u.st.budgets[budgetID] = b
	return nil
}
