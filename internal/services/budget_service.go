package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/store"
)

// DefaultRecalculateConcurrency bounds parallel budget replays.
const DefaultRecalculateConcurrency = 4

// BudgetService reads budget state and repairs spent amounts by replaying
// the ledger.
type BudgetService struct {
	store       store.Store
	logger      *log.Logger
	concurrency int
}

func NewBudgetService(s store.Store, logger *log.Logger, concurrency int) *BudgetService {
	if logger == nil {
		logger = log.Discard()
	}
	if concurrency <= 0 {
		concurrency = DefaultRecalculateConcurrency
	}
	return &BudgetService{
		store:       s,
		logger:      logger.WithComponent(log.ComponentBudget),
		concurrency: concurrency,
	}
}

// Progress returns the share of the budget total already spent, in [0, 100].
func (s *BudgetService) Progress(ctx context.Context, budgetID string) (float64, error) {
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return 0, err
	}
	return b.Progress(), nil
}

// Alerts returns the categories spent beyond their allocation.
func (s *BudgetService) Alerts(ctx context.Context, budgetID string) ([]core.CategoryAllocation, error) {
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	return b.Alerts(), nil
}

// Recalculate recomputes every allocation's spent amount from the ledger and
// overwrites the stored values in one unit.
func (s *BudgetService) Recalculate(ctx context.Context, budgetID string) (core.Budget, error) {
	var out core.Budget
	err := s.store.WithAtomicUnit(ctx, func(tx store.Tx) error {
		b, err := tx.GetBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		spent, err := replaySpent(ctx, tx, b)
		if err != nil {
			return err
		}
		if err := tx.SetSpent(ctx, b.ID, spent); err != nil {
			return err
		}
		out, err = tx.GetBudget(ctx, b.ID)
		return err
	})
	if err != nil {
		if !core.IsDomain(err) {
			err = core.Aborted(log.OpRecalculate, err)
		}
		s.logger.ErrorContext(ctx, "Budget recalculation failed",
			log.NewFields().WithBudget(budgetID).WithOperation(log.OpRecalculate).WithError(err).ToSlice()...)
		return core.Budget{}, err
	}

	s.logger.DebugContext(ctx, "Budget recalculated", log.FieldBudgetID, budgetID)
	return out, nil
}

// RecalculateCovering recalculates the user's active budgets whose window
// contains day and that allocate categoryID. It answers reconcile requests.
func (s *BudgetService) RecalculateCovering(ctx context.Context, userID, categoryID string, day core.Date) (int, error) {
	budgets, err := s.store.ListBudgets(ctx, store.BudgetFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("list budgets: %w", err)
	}

	n := 0
	for _, b := range budgets {
		if !b.Covers(day) {
			continue
		}
		if _, ok := b.Allocation(categoryID); !ok {
			continue
		}
		if _, err := s.Recalculate(ctx, b.ID); err != nil {
			return n, err
		}
		n++
	}

	s.logger.InfoContext(ctx, "Covering budgets reconciled",
		log.FieldUserID, userID, log.FieldCategoryID, categoryID, log.FieldDate, day.String(), "count", n)
	return n, nil
}

// RecalculateAll replays every active budget with bounded parallelism. It
// keeps going past individual failures and returns the first one.
func (s *BudgetService) RecalculateAll(ctx context.Context) (int, error) {
	budgets, err := s.store.ListBudgets(ctx, store.BudgetFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("list budgets: %w", err)
	}

	var (
		g    errgroup.Group
		done atomic.Int64
	)
	g.SetLimit(s.concurrency)
	for _, b := range budgets {
		id := b.ID
		g.Go(func() error {
			if _, err := s.Recalculate(ctx, id); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}
	err = g.Wait()

	s.logger.InfoContext(ctx, "Budget reconciliation pass complete",
		"recalculated", done.Load(), "total", len(budgets))
	return int(done.Load()), err
}

// replaySpent sums the user's expenses inside b's window per allocated
// category.
func replaySpent(ctx context.Context, r store.Reader, b core.Budget) (map[string]core.Money, error) {
	spent := make(map[string]core.Money, len(b.Categories))
	for _, c := range b.Categories {
		spent[c.CategoryID] = core.Money{}
	}

	txs, err := r.ListTransactions(ctx, store.TransactionFilter{
		UserID: b.UserID,
		Kind:   core.Expense,
		From:   b.StartDate,
		To:     core.Date{Time: b.EndDate.AddDate(0, 0, -1)},
	})
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		if !t.CountsTowardBudget() || !b.Covers(t.Date) {
			continue
		}
		if cur, ok := spent[t.CategoryID]; ok {
			spent[t.CategoryID] = cur.Add(t.Amount)
		}
	}
	return spent, nil
}

// applyBudgetDelta moves the spent amount of every active budget covering
// (userID, categoryID, day) by delta.
func applyBudgetDelta(ctx context.Context, tx store.Tx, userID, categoryID string, day core.Date, delta core.Money) error {
	budgets, err := tx.FindCoveringBudgets(ctx, userID, categoryID, day)
	if err != nil {
		return err
	}
	for _, b := range budgets {
		if err := tx.IncrementSpent(ctx, b.ID, categoryID, delta); err != nil {
			return err
		}
	}
	return nil
}
