package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/better-wallet/smart-account/pkg/types"
)

// Client is the relay surface the account engine consumes
type Client interface {
	GetCapabilities(ctx context.Context, chainIDs []uint64) (map[uint64]*Capabilities, error)
	PrepareCalls(ctx context.Context, params *PrepareCallsParams) (*PrepareCallsResponse, error)
	SendPreparedCalls(ctx context.Context, params *SendPreparedCallsParams) (string, error)
	GetCallsStatus(ctx context.Context, id string) (*types.CallsStatus, error)
	GetKeys(ctx context.Context, address common.Address, chainID uint64) ([]types.Key, error)
	PrepareUpgradeAccount(ctx context.Context, params *PrepareUpgradeAccountParams) (*PrepareUpgradeAccountResponse, error)
	UpgradeAccount(ctx context.Context, params *UpgradeAccountParams) error
	SetEmail(ctx context.Context, email string, wallet common.Address) error
	VerifyEmail(ctx context.Context, params *VerifyEmailParams) error
}

// VersionedContract is a deployed contract reported in capabilities
type VersionedContract struct {
	Address common.Address `json:"address"`
	Version *string        `json:"version,omitempty"`
}

// Contracts lists the relay's deployed contracts on a chain
type Contracts struct {
	AccountImplementation VersionedContract  `json:"accountImplementation"`
	AccountProxy          VersionedContract  `json:"accountProxy"`
	Orchestrator          VersionedContract  `json:"orchestrator"`
	Simulator             *VersionedContract `json:"simulator,omitempty"`
	Funder                *VersionedContract `json:"funder,omitempty"`
}

// Fees describes fee settlement on a chain
type Fees struct {
	Recipient common.Address   `json:"recipient"`
	Tokens    []types.FeeToken `json:"tokens"`
}

// Capabilities is the per-chain response of wallet_getCapabilities
type Capabilities struct {
	Contracts Contracts `json:"contracts"`
	Fees      Fees      `json:"fees"`
}

// Meta carries fee settings for a prepared intent
type Meta struct {
	FeeToken *common.Address `json:"feeToken,omitempty"`
	FeePayer *common.Address `json:"feePayer,omitempty"`
}

// RevokeKey identifies a key to remove by its id
type RevokeKey struct {
	Hash common.Hash `json:"hash"`
}

// PrepareCallsCapabilities are the intent options of wallet_prepareCalls
type PrepareCallsCapabilities struct {
	AuthorizeKeys []AuthorizeKey  `json:"authorizeKeys"`
	RevokeKeys    []RevokeKey     `json:"revokeKeys"`
	Meta          Meta            `json:"meta"`
	PreCalls      []types.PreCall `json:"preCalls"`
	PreCall       bool            `json:"preCall,omitempty"`
}

// PrepareCallsParams is the request of wallet_prepareCalls
type PrepareCallsParams struct {
	Calls        []types.Call             `json:"calls"`
	ChainID      hexutil.Uint64           `json:"chainId"`
	From         *common.Address          `json:"from,omitempty"`
	Key          *types.Descriptor        `json:"key,omitempty"`
	Capabilities PrepareCallsCapabilities `json:"capabilities"`
}

// PrepareCallsResponse is the result of wallet_prepareCalls
type PrepareCallsResponse struct {
	Context      json.RawMessage   `json:"context"`
	Digest       hexutil.Bytes     `json:"digest"`
	TypedData    json.RawMessage   `json:"typedData,omitempty"`
	Capabilities json.RawMessage   `json:"capabilities,omitempty"`
	Key          *types.Descriptor `json:"key,omitempty"`
}

// Quote extracts the signed quote carried in the response context.
// Pre-call-only contexts have no quote and return nil.
func (r *PrepareCallsResponse) Quote() (*types.SignedQuote, error) {
	return QuoteFromContext(r.Context)
}

// QuoteFromContext decodes the quote of a prepared context. The relay nests either a
// single signed quote or a set of per-chain quotes under "quote".
func QuoteFromContext(raw json.RawMessage) (*types.SignedQuote, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ctx struct {
		Quote json.RawMessage `json:"quote"`
	}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	if len(ctx.Quote) == 0 || string(ctx.Quote) == "null" {
		return nil, nil
	}

	var multi struct {
		Quotes []types.SignedQuote `json:"quotes"`
	}
	if err := json.Unmarshal(ctx.Quote, &multi); err == nil && len(multi.Quotes) > 0 {
		return &multi.Quotes[0], nil
	}

	var single types.SignedQuote
	if err := json.Unmarshal(ctx.Quote, &single); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	return &single, nil
}

// SendPreparedCallsParams is the request of wallet_sendPreparedCalls
type SendPreparedCallsParams struct {
	Context   json.RawMessage  `json:"context"`
	Key       types.Descriptor `json:"key"`
	Signature hexutil.Bytes    `json:"signature"`
}

// PrepareUpgradeAccountParams is the request of wallet_prepareUpgradeAccount
type PrepareUpgradeAccountParams struct {
	Address      common.Address             `json:"address"`
	ChainID      *hexutil.Uint64            `json:"chainId,omitempty"`
	Delegation   common.Address             `json:"delegation"`
	Capabilities UpgradeAccountCapabilities `json:"capabilities"`
}

// UpgradeAccountCapabilities carries the initial key set of an upgraded account
type UpgradeAccountCapabilities struct {
	AuthorizeKeys []AuthorizeKey `json:"authorizeKeys"`
}

// UpgradeDigests are the two digests the EOA signs during an upgrade
type UpgradeDigests struct {
	Auth common.Hash `json:"auth"`
	Exec common.Hash `json:"exec"`
}

// PrepareUpgradeAccountResponse is the result of wallet_prepareUpgradeAccount
type PrepareUpgradeAccountResponse struct {
	Context   json.RawMessage `json:"context"`
	Digests   UpgradeDigests  `json:"digests"`
	TypedData json.RawMessage `json:"typedData,omitempty"`
}

// UpgradeSignatures are the EOA signatures over UpgradeDigests
type UpgradeSignatures struct {
	Auth hexutil.Bytes `json:"auth"`
	Exec hexutil.Bytes `json:"exec"`
}

// UpgradeAccountParams is the request of wallet_upgradeAccount
type UpgradeAccountParams struct {
	Context    json.RawMessage   `json:"context"`
	Signatures UpgradeSignatures `json:"signatures"`
}

// VerifyEmailParams is the request of account_verifyEmail
type VerifyEmailParams struct {
	ChainID       hexutil.Uint64 `json:"chainId"`
	Email         string         `json:"email"`
	Signature     hexutil.Bytes  `json:"signature"`
	Token         string         `json:"token"`
	WalletAddress common.Address `json:"walletAddress"`
}
