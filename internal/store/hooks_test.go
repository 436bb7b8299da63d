package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/core"
	"saldo/internal/store"
	"saldo/internal/store/memory"
)

func TestWithAccountHook(t *testing.T) {
	ctx := context.Background()
	var users []string
	s := store.WithAccountHook(memory.New(), func(_ context.Context, userID string) {
		users = append(users, userID)
	})

	_, err := s.CreateAccount(ctx, core.Account{UserID: "u1", Name: "wallet", Type: core.AccountCash})
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, core.Account{UserID: "u2", Name: ""})
	require.Error(t, err)

	assert.Equal(t, []string{"u1"}, users, "only successful creates fire the hook")
}

func TestWithAccountHookNil(t *testing.T) {
	s := memory.New()
	assert.Same(t, s, store.WithAccountHook(s, nil))
}
