package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/core"
	"saldo/internal/store"
	"saldo/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	b := storetest.SeedBudget(t, s, "u1", core.NewDate(2024, 1, 1), core.NewDate(2024, 2, 1), 100,
		map[string]int64{"food": 100})

	got, err := s.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	got.Categories[0].Spent = core.Cents(999)

	again, err := s.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, again.Categories[0].Spent.IsZero())
}

func TestCancelledContextDiscardsUnit(t *testing.T) {
	s := New()
	a := storetest.SeedAccount(t, s, "u1", core.AccountChecking, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithAtomicUnit(ctx, func(tx store.Tx) error {
		if _, err := tx.AdjustBalance(ctx, a.ID, core.Cents(-100), a.Version); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.GetAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(1000), got.Balance)
}

func TestUnitsSerialize(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := storetest.SeedAccount(t, s, "u1", core.AccountChecking, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithAtomicUnit(ctx, func(tx store.Tx) error {
				cur, err := tx.GetAccount(ctx, a.ID)
				if err != nil {
					return err
				}
				_, err = tx.AdjustBalance(ctx, a.ID, core.Cents(10), cur.Version)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(500), got.Balance)
	assert.Equal(t, int64(51), got.Version)
}
