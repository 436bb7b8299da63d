// Package memory is an in-process store. A single mutex serializes atomic
// units; each unit works on a private copy of the state that replaces the
// shared one only when the unit succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"saldo/internal/core"
	"saldo/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

type state struct {
	accounts  map[string]core.Account
	txs       map[string]core.Transaction
	budgets   map[string]core.Budget
	transfers []core.Transfer
}

func newState() *state {
	return &state{
		accounts: make(map[string]core.Account),
		txs:      make(map[string]core.Transaction),
		budgets:  make(map[string]core.Budget),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:  make(map[string]core.Account, len(s.accounts)),
		txs:       make(map[string]core.Transaction, len(s.txs)),
		budgets:   make(map[string]core.Budget, len(s.budgets)),
		transfers: append([]core.Transfer(nil), s.transfers...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = copyTx(v)
	}
	for k, v := range s.budgets {
		c.budgets[k] = copyBudget(v)
	}
	return c
}

func copyTx(t core.Transaction) core.Transaction {
	if t.Recurrence != nil {
		r := *t.Recurrence
		t.Recurrence = &r
	}
	return t
}

func copyBudget(b core.Budget) core.Budget {
	b.Categories = append([]core.CategoryAllocation(nil), b.Categories...)
	return b
}

// WithAtomicUnit implements store.UnitOfWork.
func (s *Store) WithAtomicUnit(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&unit{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	a, err := store.PrepareAccount(a, s.now())
	if err != nil {
		return core.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.accounts[a.ID] = a
	return a, nil
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) (core.Budget, error) {
	b, err := store.PrepareBudget(b, s.now())
	if err != nil {
		return core.Budget{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.budgets[b.ID] = copyBudget(b)
	return b, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getAccount(id)
}

func (s *Store) ListAccountsByUser(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listAccountsByUser(userID), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getTransaction(id)
}

func (s *Store) ListTransactions(_ context.Context, f store.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listTransactions(f), nil
}

func (s *Store) ListDueRecurring(_ context.Context, day core.Date) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listDueRecurring(day), nil
}

func (s *Store) GetBudget(_ context.Context, id string) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getBudget(id)
}

func (s *Store) ListBudgets(_ context.Context, f store.BudgetFilter) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listBudgets(f), nil
}

func (s *Store) ListTransfers(_ context.Context, accountID string) ([]core.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listTransfers(accountID), nil
}

func (s *state) getAccount(id string) (core.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, core.NotFound("account", id)
	}
	return a, nil
}

func (s *state) listAccountsByUser(userID string) []core.Account {
	out := make([]core.Account, 0)
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) getTransaction(id string) (core.Transaction, error) {
	t, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return copyTx(t), nil
}

func (s *state) listTransactions(f store.TransactionFilter) []core.Transaction {
	out := make([]core.Transaction, 0)
	for _, t := range s.txs {
		if f.Match(t) {
			out = append(out, copyTx(t))
		}
	}
	store.SortTransactions(out)
	return out
}

func (s *state) listDueRecurring(day core.Date) []core.Transaction {
	out := make([]core.Transaction, 0)
	for _, t := range s.txs {
		r := t.Recurrence
		if r == nil || r.NextDate.IsZero() || r.NextDate.After(day) {
			continue
		}
		out = append(out, copyTx(t))
	}
	store.SortTransactions(out)
	return out
}

func (s *state) getBudget(id string) (core.Budget, error) {
	b, ok := s.budgets[id]
	if !ok {
		return core.Budget{}, core.NotFound("budget", id)
	}
	return copyBudget(b), nil
}

func (s *state) listBudgets(f store.BudgetFilter) []core.Budget {
	out := make([]core.Budget, 0)
	for _, b := range s.budgets {
		if f.UserID != "" && b.UserID != f.UserID {
			continue
		}
		if f.ActiveOnly && !b.Active {
			continue
		}
		out = append(out, copyBudget(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) listTransfers(accountID string) []core.Transfer {
	out := make([]core.Transfer, 0)
	for _, t := range s.transfers {
		if accountID == "" || t.FromAccountID == accountID || t.ToAccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}
