package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/pkg/types"
)

const accountABI = `[{"type":"function","name":"upgradeProxyAccount","inputs":[{"name":"newImplementation","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}]`

var parsedAccountABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(accountABI))
	if err != nil {
		panic(fmt.Sprintf("invalid account ABI: %v", err))
	}
	return parsed
}()

// UpdateAccountResponse reports an implementation upgrade
type UpdateAccountResponse struct {
	Implementation common.Address     `json:"implementation"`
	Updated        bool               `json:"updated"`
	ID             string             `json:"id,omitempty"`
	Status         *types.CallsStatus `json:"status,omitempty"`
}

// UpdateAccount points the account proxy at the latest implementation the relay reports
func (s *AccountService) UpdateAccount(ctx context.Context, account *types.Account) (resp *UpdateAccountResponse, err error) {
	defer func(start time.Time) { s.observe("update_account", start, err) }(s.now())

	admin, err := s.localAdminKey(account)
	if err != nil {
		return nil, err
	}

	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, err
	}
	latest := caps.Contracts.AccountImplementation.Address
	resp = &UpdateAccountResponse{Implementation: latest}

	if s.implementations != nil {
		current, err := s.implementations.ImplementationOf(ctx, account.Address)
		if err != nil {
			return nil, err
		}
		if current == latest {
			return resp, nil
		}
	}

	data, err := parsedAccountABI.Pack("upgradeProxyAccount", latest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upgrade call: %w", err)
	}

	prepared, err := s.prepare(ctx, account, admin, []types.Call{{To: account.Address, Data: data}}, relay.PrepareCallsCapabilities{}, "", "")
	if err != nil {
		return nil, err
	}
	id, err := s.SendPreparedCalls(ctx, prepared, nil)
	if err != nil {
		return nil, err
	}
	resp.ID = id

	status, err := s.wait(ctx, id)
	resp.Status = status
	if err != nil {
		return resp, err
	}
	resp.Updated = true
	return resp, nil
}

// SignPersonalMessage signs an EIP-191 message with an admin key holding local material.
// The signature is wrapped for verification by the account.
func (s *AccountService) SignPersonalMessage(ctx context.Context, account *types.Account, message []byte) (sig hexutil.Bytes, err error) {
	defer func(start time.Time) { s.observe("sign_personal_message", start, err) }(s.now())

	return s.signWithLocalAdmin(ctx, account, accounts.TextHash(message))
}

// SignTypedData signs EIP-712 typed data with an admin key holding local material
func (s *AccountService) SignTypedData(ctx context.Context, account *types.Account, typedData apitypes.TypedData) (sig hexutil.Bytes, err error) {
	defer func(start time.Time) { s.observe("sign_typed_data", start, err) }(s.now())

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return s.signWithLocalAdmin(ctx, account, digest)
}

func (s *AccountService) signWithLocalAdmin(ctx context.Context, account *types.Account, digest []byte) (hexutil.Bytes, error) {
	admin, err := s.localAdminKey(account)
	if err != nil {
		return nil, err
	}
	signature, err := s.signer.Sign(ctx, digest, admin)
	if err != nil {
		return nil, err
	}
	return admin.WrapSignature(signature), nil
}

// VerifyEmail proves control of the account to the relay's email registry by signing
// email followed by token
func (s *AccountService) VerifyEmail(ctx context.Context, account *types.Account, email, token string) (err error) {
	defer func(start time.Time) { s.observe("verify_email", start, err) }(s.now())

	signature, err := s.signWithLocalAdmin(ctx, account, accounts.TextHash([]byte(email+token)))
	if err != nil {
		return err
	}
	return s.relay.VerifyEmail(ctx, &relay.VerifyEmailParams{
		ChainID:       hexutil.Uint64(s.chainID),
		Email:         email,
		Signature:     signature,
		Token:         token,
		WalletAddress: account.Address,
	})
}

// PendingPreCalls returns the authorizations queued for address
func (s *AccountService) PendingPreCalls(ctx context.Context, address common.Address) ([]types.PreCall, error) {
	return s.ledger.Get(ctx, address)
}

// ClearPreCalls drops the authorizations queued for address
func (s *AccountService) ClearPreCalls(ctx context.Context, address common.Address) error {
	return s.ledger.Clear(ctx, address)
}

// InvalidateFeeTokens drops cached fee tokens, e.g. after the relay changed its offer
func (s *AccountService) InvalidateFeeTokens() {
	s.feeTokens.Invalidate(s.chainID)
}
