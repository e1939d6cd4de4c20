package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/smart-account/internal/precall"
	"github.com/better-wallet/smart-account/pkg/types"
)

// PreCallRepository stores pending pre-calls in the precalls table, one JSONB row per account
type PreCallRepository struct {
	db DBTX
}

// NewPreCallRepository creates a new PreCallRepository
func NewPreCallRepository(store *Store) *PreCallRepository {
	return NewPreCallRepositoryTx(store.pool)
}

// NewPreCallRepositoryTx creates a repository bound to the given connection or transaction
func NewPreCallRepositoryTx(db DBTX) *PreCallRepository {
	return &PreCallRepository{db: db}
}

// Get returns the stored pre-calls, or nil when the account has none
func (r *PreCallRepository) Get(ctx context.Context, address common.Address) ([]types.PreCall, error) {
	query := `SELECT pre_calls FROM precalls WHERE address = $1`

	var raw []byte
	err := r.db.QueryRow(ctx, query, addressKey(address)).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pre-calls: %w", err)
	}

	var preCalls []types.PreCall
	if err := json.Unmarshal(raw, &preCalls); err != nil {
		return nil, fmt.Errorf("failed to decode pre-calls: %w", err)
	}
	return preCalls, nil
}

// Set replaces the account's pre-calls
func (r *PreCallRepository) Set(ctx context.Context, address common.Address, preCalls []types.PreCall) error {
	raw, err := json.Marshal(preCalls)
	if err != nil {
		return fmt.Errorf("failed to encode pre-calls: %w", err)
	}

	query := `
		INSERT INTO precalls (address, pre_calls, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (address) DO UPDATE
		SET pre_calls = EXCLUDED.pre_calls, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, addressKey(address), raw); err != nil {
		return fmt.Errorf("failed to store pre-calls: %w", err)
	}
	return nil
}

// Clear deletes the account's pre-calls
func (r *PreCallRepository) Clear(ctx context.Context, address common.Address) error {
	query := `DELETE FROM precalls WHERE address = $1`

	if _, err := r.db.Exec(ctx, query, addressKey(address)); err != nil {
		return fmt.Errorf("failed to clear pre-calls: %w", err)
	}
	return nil
}

var _ precall.Store = (*PreCallRepository)(nil)
