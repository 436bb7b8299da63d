package store

import (
	"context"

	"saldo/internal/core"
)

// AccountHook runs after an account is created for userID.
type AccountHook func(ctx context.Context, userID string)

type hookedStore struct {
	Store
	onAccount AccountHook
}

// WithAccountHook returns s with fn called after every successful
// CreateAccount. Read caches keyed by user use it to drop entries that
// would miss the new opening balance.
func WithAccountHook(s Store, fn AccountHook) Store {
	if fn == nil {
		return s
	}
	return &hookedStore{Store: s, onAccount: fn}
}

func (s *hookedStore) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	created, err := s.Store.CreateAccount(ctx, a)
	if err != nil {
		return core.Account{}, err
	}
	s.onAccount(ctx, created.UserID)
	return created, nil
}
