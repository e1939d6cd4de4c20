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
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// PrepareCallsOptions tune call preparation
type PrepareCallsOptions struct {
	FeeToken string
	// PreCalls nil loads the ledger; an empty slice sends none
	PreCalls      []types.PreCall
	Key           *types.Key
	PermissionsID *common.Hash
	AuthorizeKeys []types.Key
	RevokeKeys    []common.Hash
	// MerchantRPCURL routes preparation through a fee-sponsoring merchant relay
	MerchantRPCURL string
}

// PreparedCalls is an intent ready to be signed and sent
type PreparedCalls struct {
	Account   common.Address     `json:"account"`
	ChainID   uint64             `json:"chainId"`
	Key       types.Key          `json:"key"`
	Context   json.RawMessage    `json:"context"`
	Digest    hexutil.Bytes      `json:"digest"`
	TypedData json.RawMessage    `json:"typedData,omitempty"`
	Quote     *types.SignedQuote `json:"quote,omitempty"`
	PreCalls  []types.PreCall    `json:"preCalls"`
}

// PrepareCalls picks the key that signs calls, attaches pending pre-calls and asks the
// relay for the intent digest
func (s *AccountService) PrepareCalls(ctx context.Context, account *types.Account, calls []types.Call, opts PrepareCallsOptions) (prepared *PreparedCalls, err error) {
	defer func(start time.Time) { s.observe("prepare_calls", start, err) }(s.now())

	var key types.Key
	if opts.Key != nil {
		key = *opts.Key
	} else {
		key, err = permissions.ResolveSigningKey(account.Keys, calls, s.resolveOptions(opts.PermissionsID))
		if err != nil {
			return nil, err
		}
	}

	preCalls := opts.PreCalls
	if preCalls == nil {
		preCalls, err = s.ledger.Get(ctx, account.Address)
		if err != nil {
			return nil, err
		}
	}

	revokeKeys := make([]relay.RevokeKey, len(opts.RevokeKeys))
	for i, id := range opts.RevokeKeys {
		revokeKeys[i] = relay.RevokeKey{Hash: id}
	}

	return s.prepare(ctx, account, key, calls, relay.PrepareCallsCapabilities{
		AuthorizeKeys: relay.EncodeKeys(opts.AuthorizeKeys),
		RevokeKeys:    revokeKeys,
		PreCalls:      preCalls,
	}, opts.FeeToken, opts.MerchantRPCURL)
}

func (s *AccountService) prepare(
	ctx context.Context,
	account *types.Account,
	key types.Key,
	calls []types.Call,
	caps relay.PrepareCallsCapabilities,
	feeToken string,
	merchantURL string,
) (*PreparedCalls, error) {
	token, err := s.resolveFeeToken(ctx, feeToken)
	if err != nil {
		return nil, err
	}
	caps.Meta.FeeToken = &token.Address
	if caps.AuthorizeKeys == nil {
		caps.AuthorizeKeys = []relay.AuthorizeKey{}
	}
	if caps.RevokeKeys == nil {
		caps.RevokeKeys = []relay.RevokeKey{}
	}
	if caps.PreCalls == nil {
		caps.PreCalls = []types.PreCall{}
	}
	if calls == nil {
		calls = []types.Call{}
	}

	client := s.relay
	if merchantURL != "" {
		if s.merchant == nil {
			return nil, fmt.Errorf("merchant RPC is not supported by this service")
		}
		if client, err = s.merchant(ctx, merchantURL); err != nil {
			return nil, fmt.Errorf("failed to dial merchant relay: %w", err)
		}
	}

	descriptor := key.Descriptor()
	resp, err := client.PrepareCalls(ctx, &relay.PrepareCallsParams{
		Calls:        calls,
		ChainID:      hexutil.Uint64(s.chainID),
		From:         &account.Address,
		Key:          &descriptor,
		Capabilities: caps,
	})
	if err != nil {
		return nil, err
	}

	quote, err := resp.Quote()
	if err != nil {
		return nil, err
	}

	return &PreparedCalls{
		Account:   account.Address,
		ChainID:   s.chainID,
		Key:       key,
		Context:   resp.Context,
		Digest:    resp.Digest,
		TypedData: resp.TypedData,
		Quote:     quote,
		PreCalls:  caps.PreCalls,
	}, nil
}

// SendPreparedCalls signs the prepared digest (unless signature is given) and submits the
// intent. An elapsed quote is refused: the caller must prepare again. The relay rejects a
// context that was already sent.
func (s *AccountService) SendPreparedCalls(ctx context.Context, prepared *PreparedCalls, signature []byte) (id string, err error) {
	defer func(start time.Time) { s.observe("send_prepared_calls", start, err) }(s.now())

	if prepared.Quote != nil && prepared.Quote.Expired(s.now()) {
		return "", apperrors.ErrQuoteExpired
	}

	if signature == nil {
		signature, err = s.signer.Sign(ctx, prepared.Digest, prepared.Key)
		if err != nil {
			return "", err
		}
	}

	return s.relay.SendPreparedCalls(ctx, &relay.SendPreparedCallsParams{
		Context:   prepared.Context,
		Key:       prepared.Key.Descriptor(),
		Signature: signature,
	})
}

// SendCallsOptions tune SendCalls
type SendCallsOptions struct {
	FeeToken      string
	PermissionsID *common.Hash
	// PreCalls nil loads the ledger; an empty slice sends none
	PreCalls []types.PreCall
	// WaitForReceipt waits for confirmation even when no pre-calls are consumed
	WaitForReceipt bool
}

// SendCallsResponse identifies a submitted bundle
type SendCallsResponse struct {
	ID              string             `json:"id"`
	Status          *types.CallsStatus `json:"status,omitempty"`
	TransactionHash *common.Hash       `json:"transactionHash,omitempty"`
}

// SendCalls prepares, signs and submits calls. When the bundle consumes pre-calls it waits
// for confirmation and only then drops those pre-calls from the ledger; a failed or
// unconfirmed bundle leaves them pending for a retry.
func (s *AccountService) SendCalls(ctx context.Context, account *types.Account, calls []types.Call, opts SendCallsOptions) (resp *SendCallsResponse, err error) {
	defer func(start time.Time) { s.observe("send_calls", start, err) }(s.now())

	prepared, err := s.PrepareCalls(ctx, account, calls, PrepareCallsOptions{
		FeeToken:      opts.FeeToken,
		PreCalls:      opts.PreCalls,
		PermissionsID: opts.PermissionsID,
	})
	if err != nil {
		return nil, err
	}

	id, err := s.SendPreparedCalls(ctx, prepared, nil)
	if err != nil {
		return nil, err
	}
	resp = &SendCallsResponse{ID: id}

	consumesPreCalls := len(prepared.PreCalls) > 0
	if !consumesPreCalls && !opts.WaitForReceipt {
		return resp, nil
	}

	status, err := s.wait(ctx, id)
	if status != nil {
		resp.Status = status
		if len(status.Receipts) > 0 {
			hash := status.Receipts[0].TransactionHash
			resp.TransactionHash = &hash
		}
	}
	if err != nil {
		return resp, err
	}

	if consumesPreCalls {
		if err := s.settlePreCalls(ctx, account.Address, prepared.PreCalls); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// execute sends a bundle signed by key without pending pre-calls and waits for it
func (s *AccountService) execute(
	ctx context.Context,
	account *types.Account,
	key types.Key,
	calls []types.Call,
	caps relay.PrepareCallsCapabilities,
	feeToken string,
) (*types.CallsStatus, error) {
	prepared, err := s.prepare(ctx, account, key, calls, caps, feeToken, "")
	if err != nil {
		return nil, err
	}
	id, err := s.SendPreparedCalls(ctx, prepared, nil)
	if err != nil {
		return nil, err
	}
	return s.wait(ctx, id)
}
