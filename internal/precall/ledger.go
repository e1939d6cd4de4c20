package precall

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/pkg/types"
)

// Store is a key-value store of pending pre-calls by account address
type Store interface {
	Get(ctx context.Context, address common.Address) ([]types.PreCall, error)
	Set(ctx context.Context, address common.Address, preCalls []types.PreCall) error
	Clear(ctx context.Context, address common.Address) error
}

// Ledger tracks signed authorizations that have not executed on-chain yet.
// Add replaces the full set for the address; Clear is idempotent.
type Ledger interface {
	Add(ctx context.Context, address common.Address, preCalls []types.PreCall) error
	Get(ctx context.Context, address common.Address) ([]types.PreCall, error)
	Clear(ctx context.Context, address common.Address) error
}

type storeLedger struct {
	store Store
}

// NewLedger returns a Ledger persisting to store
func NewLedger(store Store) Ledger {
	return &storeLedger{store: store}
}

func (l *storeLedger) Add(ctx context.Context, address common.Address, preCalls []types.PreCall) error {
	if len(preCalls) == 0 {
		return l.Clear(ctx, address)
	}
	if err := l.store.Set(ctx, address, preCalls); err != nil {
		return fmt.Errorf("failed to store pre-calls: %w", err)
	}
	return nil
}

func (l *storeLedger) Get(ctx context.Context, address common.Address) ([]types.PreCall, error) {
	preCalls, err := l.store.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to load pre-calls: %w", err)
	}
	if preCalls == nil {
		return []types.PreCall{}, nil
	}
	return preCalls, nil
}

func (l *storeLedger) Clear(ctx context.Context, address common.Address) error {
	if err := l.store.Clear(ctx, address); err != nil {
		return fmt.Errorf("failed to clear pre-calls: %w", err)
	}
	return nil
}

type discard struct{}

// Discard is the Ledger for callers that keep pre-calls themselves. Nothing is
// stored and Get is always empty.
var Discard Ledger = discard{}

func (discard) Add(context.Context, common.Address, []types.PreCall) error { return nil }

func (discard) Get(context.Context, common.Address) ([]types.PreCall, error) {
	return []types.PreCall{}, nil
}

func (discard) Clear(context.Context, common.Address) error { return nil }
