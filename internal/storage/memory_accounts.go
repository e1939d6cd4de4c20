package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/pkg/types"
)

// MemoryAccountStore is a process-local AccountStore for mock mode and tests
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[common.Address]types.Account
	order    map[common.Address]int
	seq      int
}

// NewMemoryAccountStore creates an empty store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[common.Address]types.Account),
		order:    make(map[common.Address]int),
	}
}

func (s *MemoryAccountStore) Save(ctx context.Context, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.order[account.Address]; !ok {
		s.seq++
		s.order[account.Address] = s.seq
	}
	cp := *account
	cp.Keys = append([]types.Key(nil), account.Keys...)
	s.accounts[account.Address] = cp
	return nil
}

func (s *MemoryAccountStore) Get(ctx context.Context, address common.Address) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}
	account.Keys = append([]types.Key(nil), account.Keys...)
	return &account, nil
}

// List returns accounts newest first, matching AccountRepository
func (s *MemoryAccountStore) List(ctx context.Context) ([]*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		account.Keys = append([]types.Key(nil), account.Keys...)
		out = append(out, &account)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].Address] > s.order[out[j].Address]
	})
	return out, nil
}

func (s *MemoryAccountStore) Delete(ctx context.Context, address common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[address]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, address)
	delete(s.order, address)
	return nil
}

var _ AccountStore = (*MemoryAccountStore)(nil)
