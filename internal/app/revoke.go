package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/internal/relay"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// RevokeAdmin removes an admin key on-chain. The last WebAuthn admin key cannot be
// revoked. A key unknown to the account is a no-op.
func (s *AccountService) RevokeAdmin(ctx context.Context, account *types.Account, keyID common.Hash, feeToken string) (out *types.Account, err error) {
	defer func(start time.Time) { s.observe("revoke_admin", start, err) }(s.now())

	key, ok := account.FindKey(keyID)
	if !ok {
		return account, nil
	}

	if key.IsAdmin() && key.Type() == types.KeyTypeWebAuthnP256 && countWebAuthnAdmins(account.Keys) <= 1 {
		return nil, apperrors.ErrLastAdminKey
	}
	return s.revoke(ctx, account, key, feeToken)
}

// RevokePermissions removes a session key on-chain. Admin keys must go through RevokeAdmin.
// A key unknown to the account is a no-op.
func (s *AccountService) RevokePermissions(ctx context.Context, account *types.Account, keyID common.Hash, feeToken string) (out *types.Account, err error) {
	defer func(start time.Time) { s.observe("revoke_permissions", start, err) }(s.now())

	key, ok := account.FindKey(keyID)
	if !ok {
		return account, nil
	}

	if key.IsAdmin() {
		return nil, apperrors.ErrAdminKeyRevoke
	}
	return s.revoke(ctx, account, key, feeToken)
}

// revoke sends the revocation signed by an admin other than key when one is usable.
// KeyDoesNotExist from the relay means the key is already gone and counts as success.
func (s *AccountService) revoke(ctx context.Context, account *types.Account, key types.Key, feeToken string) (*types.Account, error) {
	others := account.WithoutKey(key.ID())
	admin, err := s.adminKey(&others)
	if err != nil {
		if admin, err = s.adminKey(account); err != nil {
			return nil, err
		}
	}

	_, err = s.execute(ctx, account, admin, nil, relay.PrepareCallsCapabilities{
		RevokeKeys: []relay.RevokeKey{{Hash: key.ID()}},
	}, feeToken)
	if err != nil && !relay.IsKeyDoesNotExist(err) {
		return nil, err
	}
	return &others, nil
}

func countWebAuthnAdmins(keys []types.Key) int {
	n := 0
	for _, k := range keys {
		if k.IsAdmin() && k.Type() == types.KeyTypeWebAuthnP256 {
			n++
		}
	}
	return n
}
