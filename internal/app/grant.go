package app

import (
	"context"
	"time"

	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/internal/relay"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// GrantPermissionsResponse is a session key queued for authorization
type GrantPermissionsResponse struct {
	Key types.Key `json:"key"`
	// PreCalls is the account's full pending set, including the new authorization
	PreCalls []types.PreCall `json:"preCalls"`
	Account  types.Account   `json:"account"`
}

// GrantPermissions compiles a session key and queues its authorization as a pre-call
// signed by an admin key. Nothing is sent on-chain: the pre-call executes with the
// account's next bundle.
func (s *AccountService) GrantPermissions(ctx context.Context, account *types.Account, req *permissions.Request, feeToken string) (resp *GrantPermissionsResponse, err error) {
	defer func(start time.Time) { s.observe("grant_permissions", start, err) }(s.now())

	key, err := s.compileSessionKey(ctx, req, feeToken)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apperrors.InvalidPermissions("no permissions requested")
	}

	admin, err := s.adminKey(account)
	if err != nil {
		return nil, err
	}

	prepared, err := s.prepareAuthorization(ctx, &account.Address, &admin, *key, feeToken)
	if err != nil {
		return nil, err
	}
	signature, err := s.signer.Sign(ctx, prepared.Digest, admin)
	if err != nil {
		return nil, err
	}

	preCalls, err := s.queuePreCall(ctx, account.Address, types.PreCall{
		Context:   prepared.Context,
		Signature: admin.WrapSignature(signature),
	})
	if err != nil {
		return nil, err
	}

	return &GrantPermissionsResponse{
		Key:      *key,
		PreCalls: preCalls,
		Account:  account.WithKey(*key),
	}, nil
}

// GrantAdmin authorizes key as an admin on-chain and waits for confirmation
func (s *AccountService) GrantAdmin(ctx context.Context, account *types.Account, key types.Key, feeToken string) (out *types.Key, err error) {
	defer func(start time.Time) { s.observe("grant_admin", start, err) }(s.now())

	key.Role = types.RoleAdmin
	key.Permissions = nil

	admin, err := s.adminKey(account)
	if err != nil {
		return nil, err
	}

	if _, err := s.execute(ctx, account, admin, nil, relay.PrepareCallsCapabilities{
		AuthorizeKeys: []relay.AuthorizeKey{relay.EncodeKey(key)},
	}, feeToken); err != nil {
		return nil, err
	}
	return &key, nil
}
