package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/better-wallet/smart-account/pkg/types"
)

// AccountStore persists accounts hosted by this process, including local key material.
// Delete returns ErrAccountNotFound for an unknown address.
type AccountStore interface {
	Save(ctx context.Context, account *types.Account) error
	Get(ctx context.Context, address common.Address) (*types.Account, error)
	List(ctx context.Context) ([]*types.Account, error)
	Delete(ctx context.Context, address common.Address) error
}

// AccountRepository handles account data operations
type AccountRepository struct {
	store *Store
	db    DBTX
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store, db: store.pool}
}

// Save inserts or replaces an account
func (r *AccountRepository) Save(ctx context.Context, account *types.Account) error {
	keys, err := json.Marshal(account.Keys)
	if err != nil {
		return fmt.Errorf("failed to encode keys: %w", err)
	}

	query := `
		INSERT INTO accounts (address, label, email, keys, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE
		SET label = EXCLUDED.label, email = EXCLUDED.email, keys = EXCLUDED.keys, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, addressKey(account.Address), account.Label, account.Email, keys); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Get retrieves an account by address. Returns nil when it does not exist.
func (r *AccountRepository) Get(ctx context.Context, address common.Address) (*types.Account, error) {
	query := `
		SELECT address, label, email, keys
		FROM accounts
		WHERE address = $1
	`

	account, err := scanAccount(r.db.QueryRow(ctx, query, addressKey(address)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// List returns all accounts, most recently created first
func (r *AccountRepository) List(ctx context.Context) ([]*types.Account, error) {
	query := `
		SELECT address, label, email, keys
		FROM accounts
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*types.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return accounts, nil
}

// Delete removes an account together with its pending pre-calls
func (r *AccountRepository) Delete(ctx context.Context, address common.Address) error {
	return r.store.InTx(ctx, func(tx DBTX) error {
		if err := NewPreCallRepositoryTx(tx).Clear(ctx, address); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, addressKey(address))
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
}

func scanAccount(row pgx.Row) (*types.Account, error) {
	var (
		address string
		keys    []byte
		account types.Account
	)
	if err := row.Scan(&address, &account.Label, &account.Email, &keys); err != nil {
		return nil, err
	}
	account.Address = common.HexToAddress(address)
	if err := json.Unmarshal(keys, &account.Keys); err != nil {
		return nil, fmt.Errorf("failed to decode keys: %w", err)
	}
	return &account, nil
}

// addressKey is the canonical column form of an account address
func addressKey(address common.Address) string {
	return strings.ToLower(address.Hex())
}

var _ AccountStore = (*AccountRepository)(nil)
