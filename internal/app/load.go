package app

import (
	"bytes"
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/internal/siwe"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// LoadAccountsRequest describes a login. Address and Key together skip credential discovery.
type LoadAccountsRequest struct {
	Address            *common.Address
	Key                *types.Key
	Permissions        *permissions.Request
	FeeToken           string
	SignInWithEthereum *siwe.Params
}

// LoadAccountsResponse is the logged-in account
type LoadAccountsResponse struct {
	Account types.Account `json:"account"`
	// PreCalls are the authorizations queued by this login
	PreCalls []types.PreCall `json:"preCalls"`
	SIWE     *siwe.Signed    `json:"siwe,omitempty"`
}

// LoadAccounts discovers (or resumes) the user's account and, in the same gesture,
// optionally authorizes a session key or signs a sign-in message.
//
// The digest signed during discovery is, in order of preference: a pre-call-only intent
// authorizing the session key, a sign-in message when the address is already known, or
// empty when nothing is asserted.
func (s *AccountService) LoadAccounts(ctx context.Context, session *Session, req *LoadAccountsRequest) (resp *LoadAccountsResponse, err error) {
	defer func(start time.Time) { s.observe("load_accounts", start, err) }(s.now())

	var (
		address    *common.Address
		keys       []types.Key
		signingKey *types.Key
	)
	if req.Address != nil && req.Key != nil {
		address = req.Address
		keys = []types.Key{*req.Key}
		signingKey = req.Key
	} else if s.mockMode {
		if remembered := session.take(); remembered != nil {
			admin, err := s.adminKey(remembered)
			if err != nil {
				return nil, err
			}
			address = &remembered.Address
			keys = remembered.Keys
			signingKey = &admin
		}
	}
	if address == nil && req.Address != nil {
		address = req.Address
	}

	sessionKey, err := s.compileSessionKey(ctx, req.Permissions, req.FeeToken)
	if err != nil {
		return nil, err
	}

	var (
		digest  []byte
		preCall *relay.PrepareCallsResponse
		siweMsg *siwe.Message
	)
	switch {
	case sessionKey != nil:
		var from *common.Address
		if signingKey != nil {
			from = address
		}
		preCall, err = s.prepareAuthorization(ctx, from, signingKey, *sessionKey, req.FeeToken)
		if err != nil {
			return nil, err
		}
		digest = preCall.Digest
	case req.SignInWithEthereum != nil && address != nil:
		siweMsg = s.siweMessage(*address, *req.SignInWithEthereum)
		if err := siweMsg.Validate(); err != nil {
			return nil, err
		}
		digest = siweMsg.Digest()
	}

	var signature []byte
	if signingKey != nil {
		if len(digest) > 0 {
			if signature, err = s.signer.Sign(ctx, digest, *signingKey); err != nil {
				return nil, err
			}
		}
	} else {
		discovered, sig, err := s.discover(ctx, digest)
		if err != nil {
			return nil, err
		}
		address = &discovered.Address
		keys = discovered.Keys
		signingKey = &discovered.Keys[0]
		signature = sig
	}

	account := types.Account{Address: *address, Keys: keys}
	if sessionKey != nil {
		account = account.WithKey(*sessionKey)
	}

	resp = &LoadAccountsResponse{Account: account, PreCalls: []types.PreCall{}}
	if preCall != nil {
		queued := types.PreCall{Context: preCall.Context, Signature: signingKey.WrapSignature(signature)}
		if _, err := s.queuePreCall(ctx, *address, queued); err != nil {
			return nil, err
		}
		resp.PreCalls = []types.PreCall{queued}
	}

	if req.SignInWithEthereum != nil {
		if siweMsg != nil {
			resp.SIWE = &siwe.Signed{Message: siweMsg.String(), Signature: signingKey.WrapSignature(signature)}
		} else {
			signed, err := s.siweMessage(*address, *req.SignInWithEthereum).Sign(ctx, s.signer, *signingKey, true)
			if err != nil {
				return nil, err
			}
			resp.SIWE = signed
		}
	}
	return resp, nil
}

// discover asks the signer for any credential's assertion over digest and loads
// the asserted account's keys. The first on-chain key is the admin credential.
func (s *AccountService) discover(ctx context.Context, digest []byte) (*types.Account, []byte, error) {
	assertion, err := s.signer.Discover(ctx, digest)
	if err != nil {
		return nil, nil, err
	}

	onchain, err := s.relay.GetKeys(ctx, assertion.Address, s.chainID)
	if err != nil {
		return nil, nil, err
	}
	if len(onchain) == 0 {
		return nil, nil, apperrors.ErrAccountNotFound.WithDetail(assertion.Address.Hex())
	}

	admin := onchain[0].WithCredential(assertion.CredentialID, s.siweDomain)
	admin.Role = types.RoleAdmin
	keys := append([]types.Key{admin}, onchain[1:]...)

	var signature []byte
	if len(digest) > 0 {
		signature = assertion.Signature
	}
	return &types.Account{Address: assertion.Address, Keys: keys}, signature, nil
}

// prepareAuthorization asks the relay for a pre-call-only intent authorizing key
func (s *AccountService) prepareAuthorization(ctx context.Context, address *common.Address, signWith *types.Key, key types.Key, feeToken string) (*relay.PrepareCallsResponse, error) {
	params := &relay.PrepareCallsParams{
		Calls:   []types.Call{},
		ChainID: hexutil.Uint64(s.chainID),
		From:    address,
		Capabilities: relay.PrepareCallsCapabilities{
			AuthorizeKeys: []relay.AuthorizeKey{relay.EncodeKey(key)},
			RevokeKeys:    []relay.RevokeKey{},
			PreCalls:      []types.PreCall{},
			PreCall:       true,
		},
	}
	if signWith != nil {
		d := signWith.Descriptor()
		params.Key = &d
	}
	token, err := s.resolveFeeToken(ctx, feeToken)
	if err != nil {
		return nil, err
	}
	params.Capabilities.Meta.FeeToken = &token.Address
	return s.relay.PrepareCalls(ctx, params)
}

// queuePreCall persists the full pending set (existing plus preCall) and returns it
func (s *AccountService) queuePreCall(ctx context.Context, address common.Address, preCall types.PreCall) ([]types.PreCall, error) {
	existing, err := s.ledger.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	all := append(append([]types.PreCall{}, existing...), preCall)
	if err := s.ledger.Add(ctx, address, all); err != nil {
		return nil, err
	}
	return all, nil
}

// settlePreCalls drops the executed pre-calls from the ledger and keeps the rest pending.
// Entries match by signature since the stored context may be re-encoded.
func (s *AccountService) settlePreCalls(ctx context.Context, address common.Address, executed []types.PreCall) error {
	existing, err := s.ledger.Get(ctx, address)
	if err != nil {
		return err
	}
	remaining := make([]types.PreCall, 0, len(existing))
	for _, pc := range existing {
		if !containsPreCall(executed, pc) {
			remaining = append(remaining, pc)
		}
	}
	if len(remaining) == len(existing) {
		return nil
	}
	return s.ledger.Add(ctx, address, remaining)
}

func containsPreCall(preCalls []types.PreCall, target types.PreCall) bool {
	for _, pc := range preCalls {
		if bytes.Equal(pc.Signature, target.Signature) {
			return true
		}
	}
	return false
}
