package precall

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/pkg/types"
)

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[common.Address][]types.PreCall
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[common.Address][]types.PreCall)}
}

func (s *MemoryStore) Get(ctx context.Context, address common.Address) ([]types.PreCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.PreCall(nil), s.entries[address]...), nil
}

func (s *MemoryStore) Set(ctx context.Context, address common.Address, preCalls []types.PreCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[address] = append([]types.PreCall(nil), preCalls...)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, address common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, address)
	return nil
}

var _ Store = (*MemoryStore)(nil)
