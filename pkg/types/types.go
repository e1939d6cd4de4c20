package types

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Calls status codes reported by the relay
const (
	CallsStatusPending        = 100
	CallsStatusConfirmed      = 200
	CallsStatusOffchainFailed = 300
	CallsStatusReverted       = 400
	CallsStatusPartialRevert  = 500
)

// Fee token kinds
const (
	FeeTokenKindNative = "native"
	FeeTokenKindERC20  = "erc20"
)

// Call is a single call in a bundle
type Call struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

// Account is a delegated smart account and the keys known to authorize it
type Account struct {
	Address common.Address `json:"address"`
	Keys    []Key          `json:"keys"`
	Label   string         `json:"label,omitempty"`
	Email   string         `json:"email,omitempty"`
}

// FindKey returns the key with the given id
func (a *Account) FindKey(id common.Hash) (Key, bool) {
	for _, k := range a.Keys {
		if k.ID() == id {
			return k, true
		}
	}
	return Key{}, false
}

// WithKey returns a copy of the account with key appended (or replaced if its id exists)
func (a Account) WithKey(key Key) Account {
	keys := make([]Key, 0, len(a.Keys)+1)
	replaced := false
	for _, k := range a.Keys {
		if k.ID() == key.ID() {
			keys = append(keys, key)
			replaced = true
			continue
		}
		keys = append(keys, k)
	}
	if !replaced {
		keys = append(keys, key)
	}
	a.Keys = keys
	return a
}

// WithoutKey returns a copy of the account without the key with the given id
func (a Account) WithoutKey(id common.Hash) Account {
	keys := make([]Key, 0, len(a.Keys))
	for _, k := range a.Keys {
		if k.ID() != id {
			keys = append(keys, k)
		}
	}
	a.Keys = keys
	return a
}

// Public returns a copy of the account with all local key material removed
func (a Account) Public() Account {
	keys := make([]Key, len(a.Keys))
	for i, k := range a.Keys {
		keys[i] = k.WithoutMaterial()
	}
	a.Keys = keys
	return a
}

// PreCall is an authorization that has been signed but not executed on-chain
type PreCall struct {
	Context   json.RawMessage `json:"context"`
	Signature hexutil.Bytes   `json:"signature"`
}

// FeeToken is a token the relay accepts for fees on a chain
type FeeToken struct {
	Address    common.Address `json:"address"`
	Symbol     string         `json:"symbol"`
	Decimals   uint8          `json:"decimals"`
	Kind       string         `json:"kind"`
	NativeRate *hexutil.Big   `json:"nativeRate,omitempty"`
	UID        string         `json:"uid,omitempty"`
}

// Matches reports whether the token is identified by addressOrSymbol.
// "native" matches the chain's native token.
func (t FeeToken) Matches(addressOrSymbol string) bool {
	if addressOrSymbol == "" {
		return false
	}
	if strings.EqualFold(addressOrSymbol, FeeTokenKindNative) {
		return t.Kind == FeeTokenKindNative
	}
	if common.IsHexAddress(addressOrSymbol) {
		return common.HexToAddress(addressOrSymbol) == t.Address
	}
	return strings.EqualFold(t.Symbol, addressOrSymbol)
}

// NativeFeeEstimate is the gas price estimate in a quote
type NativeFeeEstimate struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

// Quote is a time-boxed fee offer from the relay
type Quote struct {
	ChainID              hexutil.Uint64    `json:"chainId"`
	Intent               json.RawMessage   `json:"intent"`
	NativeFeeEstimate    NativeFeeEstimate `json:"nativeFeeEstimate"`
	TTL                  uint64            `json:"ttl"`
	ETHPrice             *hexutil.Big      `json:"ethPrice"`
	PaymentTokenDecimals uint8             `json:"paymentTokenDecimals"`
	Orchestrator         common.Address    `json:"orchestrator"`
	AuthorizationAddress *common.Address   `json:"authorizationAddress,omitempty"`
}

// Expired reports whether the quote's ttl has elapsed at now
func (q *Quote) Expired(now time.Time) bool {
	return q.TTL != 0 && uint64(now.Unix()) >= q.TTL
}

// SignedQuote is a quote countersigned by the relay
type SignedQuote struct {
	Quote
	Hash    common.Hash    `json:"hash"`
	R       *hexutil.Big   `json:"r"`
	S       *hexutil.Big   `json:"s"`
	YParity hexutil.Uint64 `json:"yParity"`
}

// Receipt is a transaction receipt reported for an executed bundle
type Receipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockHash       common.Hash    `json:"blockHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
}

// CallsStatus is the execution status of a submitted bundle
type CallsStatus struct {
	ID       string    `json:"id"`
	Status   int       `json:"status"`
	Receipts []Receipt `json:"receipts,omitempty"`
}

// Pending reports whether the bundle has not settled yet
func (s *CallsStatus) Pending() bool {
	return s.Status < CallsStatusConfirmed
}

// Confirmed reports whether the bundle executed successfully
func (s *CallsStatus) Confirmed() bool {
	return s.Status >= CallsStatusConfirmed && s.Status < CallsStatusOffchainFailed
}

// Uint converts a hex big to *big.Int, nil-safe
func Uint(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return (*big.Int)(v)
}
