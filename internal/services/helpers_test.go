package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"saldo/internal/core"
	"saldo/internal/store"
	"saldo/internal/store/memory"
	"saldo/internal/store/sqlite"
	"saldo/internal/store/storetest"
)

// eachStore runs fn once per store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		repo, err := sqlite.Open(filepath.Join(t.TempDir(), "saldo.db"))
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		fn(t, repo)
	})
}

type fixture struct {
	store     store.Store
	coord     *Coordinator
	budgets   *BudgetService
	queries   *QueryService
	publisher *recordingPublisher
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	pub := &recordingPublisher{}
	q := NewQueryService(s, time.Minute, nil)
	s = store.WithAccountHook(s, q.Invalidate)
	return &fixture{
		store:     s,
		coord:     NewCoordinator(s, CoordinatorOptions{Publisher: pub, OnCommit: q.Invalidate}),
		budgets:   NewBudgetService(s, nil, 2),
		queries:   q,
		publisher: pub,
	}
}

func (f *fixture) account(t *testing.T, typ core.AccountType, opening int64) core.Account {
	t.Helper()
	return storetest.SeedAccount(t, f.store, "u1", typ, opening)
}

func (f *fixture) balance(t *testing.T, accountID string) core.Money {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) spent(t *testing.T, budgetID, categoryID string) core.Money {
	t.Helper()
	b, err := f.store.GetBudget(context.Background(), budgetID)
	require.NoError(t, err)
	alloc, ok := b.Allocation(categoryID)
	require.True(t, ok)
	return alloc.Spent
}

func (f *fixture) create(t *testing.T, accountID string, cents int64, kind core.Kind, categoryID string, day core.Date) core.Transaction {
	t.Helper()
	rec, err := f.coord.CreateTransaction(context.Background(), core.NewTransaction{
		AccountID:   accountID,
		Amount:      core.Cents(cents),
		Kind:        kind,
		Description: "test",
		CategoryID:  categoryID,
		Date:        day,
	})
	require.NoError(t, err)
	return rec
}

// Budget window shared by the tests: January 2024.
var (
	janStart = core.NewDate(2024, 1, 1)
	janEnd   = core.NewDate(2024, 2, 1)
	jan15    = core.NewDate(2024, 1, 15)
)

type recordingPublisher struct {
	mu         sync.Mutex
	events     []core.LedgerEvent
	reconciles []core.ReconcileRequest
	err        error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, e core.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishReconcileRequest(_ context.Context, r core.ReconcileRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.reconciles = append(p.reconciles, r)
	return nil
}

func (p *recordingPublisher) eventTypes() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) reconcileRequests() []core.ReconcileRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.ReconcileRequest(nil), p.reconciles...)
}

// faultyStore injects failures into the units of an underlying store.
type faultyStore struct {
	store.Store

	mu           sync.Mutex
	conflicts    int
	adjustErr    error
	incrementErr error
	adjustCalls  int
	// patchFailures fails that many PatchTransaction calls.
	patchFailures int
}

func (f *faultyStore) WithAtomicUnit(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.WithAtomicUnit(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, f: f})
	})
}

type faultyTx struct {
	store.Tx
	f *faultyStore
}

func (t *faultyTx) AdjustBalance(ctx context.Context, id string, delta core.Money, expectedVersion int64) (core.Account, error) {
	t.f.mu.Lock()
	t.f.adjustCalls++
	if t.f.conflicts > 0 {
		t.f.conflicts--
		t.f.mu.Unlock()
		return core.Account{}, core.Conflict("account", id)
	}
	err := t.f.adjustErr
	t.f.mu.Unlock()
	if err != nil {
		return core.Account{}, err
	}
	return t.Tx.AdjustBalance(ctx, id, delta, expectedVersion)
}

func (t *faultyTx) IncrementSpent(ctx context.Context, budgetID, categoryID string, delta core.Money) error {
	t.f.mu.Lock()
	err := t.f.incrementErr
	t.f.mu.Unlock()
	if err != nil {
		return err
	}
	return t.Tx.IncrementSpent(ctx, budgetID, categoryID, delta)
}

func (t *faultyTx) PatchTransaction(ctx context.Context, id string, p core.TransactionPatch) (core.Transaction, error) {
	t.f.mu.Lock()
	if t.f.patchFailures > 0 {
		t.f.patchFailures--
		t.f.mu.Unlock()
		return core.Transaction{}, errors.New("disk full")
	}
	t.f.mu.Unlock()
	return t.Tx.PatchTransaction(ctx, id, p)
}
