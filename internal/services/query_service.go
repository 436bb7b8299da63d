package services

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/store"
)

const defaultNetWorthCacheSize = 1024

// QueryService is the read path. It never writes.
type QueryService struct {
	store    store.Reader
	netWorth *cache.LRUCache[core.Money]
	logger   *log.Logger
}

// NewQueryService builds the read path. A positive ttl enables the per-user
// net worth cache; Invalidate keeps it coherent with commits.
func NewQueryService(r store.Reader, ttl time.Duration, logger *log.Logger) *QueryService {
	if logger == nil {
		logger = log.Discard()
	}
	q := &QueryService{store: r, logger: logger.WithComponent(log.ComponentQuery)}
	if ttl > 0 {
		q.netWorth = cache.NewLRUCache[core.Money](defaultNetWorthCacheSize, ttl)
	}
	return q
}

// Cache exposes the net worth cache for sweeping, or nil when disabled.
func (q *QueryService) Cache() *cache.LRUCache[core.Money] {
	return q.netWorth
}

// Invalidate drops the cached net worth of userID. It matches
// CoordinatorOptions.OnCommit.
func (q *QueryService) Invalidate(_ context.Context, userID string) {
	if q.netWorth != nil {
		q.netWorth.Delete(userID)
	}
}

// NetWorth sums the balance of every account the user owns, active or not.
func (q *QueryService) NetWorth(ctx context.Context, userID string) (core.Money, error) {
	if q.netWorth != nil {
		if v, ok := q.netWorth.Get(userID); ok {
			return v, nil
		}
	}

	accounts, err := q.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		return core.Money{}, err
	}
	var total core.Money
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}

	if q.netWorth != nil {
		q.netWorth.Set(userID, total)
	}
	return total, nil
}

// BalanceHistory returns the user's ledger records dated within
// [start, end], ordered by date then creation time.
func (q *QueryService) BalanceHistory(ctx context.Context, userID string, start, end core.Date) ([]core.Transaction, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return q.store.ListTransactions(ctx, store.TransactionFilter{UserID: userID, From: start, To: end})
}

// FinancialMetrics aggregates income and expenses over [start, end].
func (q *QueryService) FinancialMetrics(ctx context.Context, userID string, start, end core.Date) (core.Metrics, error) {
	if err := checkRange(start, end); err != nil {
		return core.Metrics{}, err
	}
	txs, err := q.store.ListTransactions(ctx, store.TransactionFilter{UserID: userID, From: start, To: end})
	if err != nil {
		return core.Metrics{}, err
	}

	m := core.Metrics{Start: start, End: end}
	byCategory := make(map[string]core.Money)
	for _, t := range txs {
		switch t.Kind {
		case core.Income:
			m.Income = m.Income.Add(t.Amount)
		case core.Expense:
			m.Expenses = m.Expenses.Add(t.Amount)
			byCategory[t.CategoryID] = byCategory[t.CategoryID].Add(t.Amount)
		}
	}
	m.Net = m.Income.Sub(m.Expenses)
	if m.Income.IsPositive() {
		rate := m.Net.Decimal().Div(m.Income.Decimal()).Mul(decimal.NewFromInt(100)).Round(2)
		m.SavingsRate = rate.InexactFloat64()
	}

	for cat, amt := range byCategory {
		m.ByCategory = append(m.ByCategory, core.CategoryAmount{CategoryID: cat, Amount: amt})
	}
	sort.Slice(m.ByCategory, func(i, j int) bool {
		a, b := m.ByCategory[i], m.ByCategory[j]
		if a.Amount != b.Amount {
			return b.Amount.Less(a.Amount)
		}
		return a.CategoryID < b.CategoryID
	})
	return m, nil
}

// VerifyAccount replays the opening balance, the ledger and the transfer
// journal of an account and compares the result with the cached balance.
func (q *QueryService) VerifyAccount(ctx context.Context, accountID string) (core.BalanceCheck, error) {
	acct, err := q.store.GetAccount(ctx, accountID)
	if err != nil {
		return core.BalanceCheck{}, err
	}
	txs, err := q.store.ListTransactions(ctx, store.TransactionFilter{AccountID: accountID})
	if err != nil {
		return core.BalanceCheck{}, err
	}
	transfers, err := q.store.ListTransfers(ctx, accountID)
	if err != nil {
		return core.BalanceCheck{}, err
	}

	replayed := acct.OpeningBalance
	for _, t := range txs {
		replayed = replayed.Add(t.Signed())
	}
	for _, tr := range transfers {
		if tr.FromAccountID == accountID {
			replayed = replayed.Sub(tr.Amount)
		}
		if tr.ToAccountID == accountID {
			replayed = replayed.Add(tr.Amount)
		}
	}

	check := core.BalanceCheck{
		AccountID: accountID,
		Cached:    acct.Balance,
		Replayed:  replayed,
		Drift:     acct.Balance.Sub(replayed),
	}
	if !check.Consistent() {
		q.logger.WarnContext(ctx, "Account balance drift detected",
			log.FieldAccountID, accountID, "cached_cents", check.Cached.Cents,
			"replayed_cents", check.Replayed.Cents, "drift_cents", check.Drift.Cents)
	}
	return check, nil
}

func checkRange(start, end core.Date) error {
	if start.IsZero() || end.IsZero() {
		return core.NewError(core.KindInvalidInput, "range", "start and end dates are required")
	}
	if end.Before(start) {
		return core.NewError(core.KindInvalidInput, "range", "end date must not be before start date")
	}
	return nil
}
