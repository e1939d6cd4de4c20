package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/internal/siwe"
	"github.com/better-wallet/smart-account/pkg/types"
)

// CreateAccountRequest describes a new account
type CreateAccountRequest struct {
	// Admins are extra admin keys authorized alongside the generated one
	Admins             []types.Key
	Email              string
	Label              string
	Permissions        *permissions.Request
	FeeToken           string
	SignInWithEthereum *siwe.Params
}

// CreateAccountResponse is a freshly upgraded account
type CreateAccountResponse struct {
	Account types.Account `json:"account"`
	SIWE    *siwe.Signed  `json:"siwe,omitempty"`
}

// CreateAccount generates an ephemeral EOA, delegates it to the account implementation
// with the full initial key set in one upgrade, and discards the EOA key.
func (s *AccountService) CreateAccount(ctx context.Context, session *Session, req *CreateAccountRequest) (resp *CreateAccountResponse, err error) {
	defer func(start time.Time) { s.observe("create_account", start, err) }(s.now())

	eoa, _, err := s.generateLocalKey(ctx, types.KeyTypeAddress)
	if err != nil {
		return nil, err
	}
	address := common.BytesToAddress(eoa.PublicKey())

	keys, err := s.initialKeys(ctx, address, req.Label, req.Permissions, req.FeeToken, req.Admins)
	if err != nil {
		return nil, err
	}

	prepared, err := s.prepareUpgrade(ctx, address, keys)
	if err != nil {
		return nil, err
	}

	authSig, err := s.signer.Sign(ctx, prepared.Digests.Auth.Bytes(), eoa)
	if err != nil {
		return nil, fmt.Errorf("failed to sign auth digest: %w", err)
	}
	execSig, err := s.signer.Sign(ctx, prepared.Digests.Exec.Bytes(), eoa)
	if err != nil {
		return nil, fmt.Errorf("failed to sign exec digest: %w", err)
	}

	if err := s.relay.UpgradeAccount(ctx, &relay.UpgradeAccountParams{
		Context:    prepared.Context,
		Signatures: relay.UpgradeSignatures{Auth: authSig, Exec: execSig},
	}); err != nil {
		return nil, err
	}

	account := types.Account{Address: address, Keys: keys, Label: req.Label}
	if req.Email != "" && req.Label != "" {
		if err := s.relay.SetEmail(ctx, req.Email, address); err != nil {
			return nil, err
		}
		account.Email = req.Email
	}

	resp = &CreateAccountResponse{Account: account}
	if req.SignInWithEthereum != nil {
		signed, err := s.siweMessage(address, *req.SignInWithEthereum).Sign(ctx, s.signer, eoa, false)
		if err != nil {
			return nil, err
		}
		resp.SIWE = signed
	}

	if s.mockMode {
		session.remember(account)
	}
	return resp, nil
}

// initialKeys builds the key set of a new account: admin credential, optional session
// key, then extra admins
func (s *AccountService) initialKeys(
	ctx context.Context,
	address common.Address,
	label string,
	req *permissions.Request,
	feeToken string,
	admins []types.Key,
) ([]types.Key, error) {
	admin, err := s.newAdminKey(ctx, address, label)
	if err != nil {
		return nil, err
	}
	keys := []types.Key{admin}

	sessionKey, err := s.compileSessionKey(ctx, req, feeToken)
	if err != nil {
		return nil, err
	}
	if sessionKey != nil {
		keys = append(keys, *sessionKey)
	}

	for _, k := range admins {
		k.Role = types.RoleAdmin
		k.Permissions = nil
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *AccountService) prepareUpgrade(ctx context.Context, address common.Address, keys []types.Key) (*relay.PrepareUpgradeAccountResponse, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, err
	}
	chainID := hexutil.Uint64(s.chainID)
	return s.relay.PrepareUpgradeAccount(ctx, &relay.PrepareUpgradeAccountParams{
		Address:    address,
		ChainID:    &chainID,
		Delegation: caps.Contracts.AccountProxy.Address,
		Capabilities: relay.UpgradeAccountCapabilities{
			AuthorizeKeys: relay.EncodeKeys(keys),
		},
	})
}

// UpgradeRequest describes the key set for upgrading an existing EOA
type UpgradeRequest struct {
	Admins      []types.Key
	Email       string
	Label       string
	Permissions *permissions.Request
	FeeToken    string
}

// PreparedUpgrade holds the digests the EOA owner must sign to finish an upgrade
type PreparedUpgrade struct {
	Address   common.Address       `json:"address"`
	Context   json.RawMessage      `json:"context"`
	Digests   relay.UpgradeDigests `json:"digests"`
	TypedData json.RawMessage      `json:"typedData,omitempty"`
	Keys      []types.Key          `json:"keys"`
	Email     string               `json:"email,omitempty"`
	Label     string               `json:"label,omitempty"`
}

// PrepareUpgradeAccount builds the initial key set for an EOA the caller controls and
// returns the digests its owner signs
func (s *AccountService) PrepareUpgradeAccount(ctx context.Context, address common.Address, req *UpgradeRequest) (out *PreparedUpgrade, err error) {
	defer func(start time.Time) { s.observe("prepare_upgrade_account", start, err) }(s.now())

	keys, err := s.initialKeys(ctx, address, req.Label, req.Permissions, req.FeeToken, req.Admins)
	if err != nil {
		return nil, err
	}
	prepared, err := s.prepareUpgrade(ctx, address, keys)
	if err != nil {
		return nil, err
	}
	return &PreparedUpgrade{
		Address:   address,
		Context:   prepared.Context,
		Digests:   prepared.Digests,
		TypedData: prepared.TypedData,
		Keys:      keys,
		Email:     req.Email,
		Label:     req.Label,
	}, nil
}

// UpgradeAccount submits a prepared upgrade with the EOA owner's signatures
func (s *AccountService) UpgradeAccount(ctx context.Context, session *Session, prepared *PreparedUpgrade, signatures relay.UpgradeSignatures) (account *types.Account, err error) {
	defer func(start time.Time) { s.observe("upgrade_account", start, err) }(s.now())

	if err := s.relay.UpgradeAccount(ctx, &relay.UpgradeAccountParams{
		Context:    prepared.Context,
		Signatures: signatures,
	}); err != nil {
		return nil, err
	}

	out := types.Account{Address: prepared.Address, Keys: prepared.Keys, Label: prepared.Label}
	if prepared.Email != "" && prepared.Label != "" {
		if err := s.relay.SetEmail(ctx, prepared.Email, prepared.Address); err != nil {
			return nil, err
		}
		out.Email = prepared.Email
	}
	if s.mockMode {
		session.remember(out)
	}
	return &out, nil
}
