package validation

import (
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/pkg/types"
)

// EthereumAddressPattern is the regex pattern for Ethereum addresses
var EthereumAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// KeyIDPattern is the regex pattern for key ids
var KeyIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Defaults for CallsConfig
const (
	DefaultMaxCalls    = 32
	DefaultMaxDataSize = 128 * 1024
)

// ParseAddress validates and parses an account or target address
func ParseAddress(address string) (common.Address, error) {
	if address == "" {
		return common.Address{}, fmt.Errorf("address cannot be empty")
	}
	if !EthereumAddressPattern.MatchString(address) {
		return common.Address{}, fmt.Errorf("invalid Ethereum address format: must be 0x followed by 40 hex characters")
	}
	return common.HexToAddress(address), nil
}

// ParseKeyID validates and parses a key id
func ParseKeyID(id string) (common.Hash, error) {
	if !KeyIDPattern.MatchString(id) {
		return common.Hash{}, fmt.Errorf("invalid key id: must be 0x followed by 64 hex characters")
	}
	return common.HexToHash(id), nil
}

// CallsConfig bounds a call bundle
type CallsConfig struct {
	MaxCalls    int // 0 = DefaultMaxCalls
	MaxDataSize int // per call, 0 = DefaultMaxDataSize
}

// ValidateCall checks a single call
func ValidateCall(call types.Call, maxDataSize int) error {
	if call.To == (common.Address{}) {
		return fmt.Errorf("cannot call the zero address")
	}
	if call.Value != nil && call.Value.ToInt().Sign() < 0 {
		return fmt.Errorf("value cannot be negative")
	}
	if maxDataSize > 0 && len(call.Data) > maxDataSize {
		return fmt.Errorf("call data too large: %d bytes > %d bytes max", len(call.Data), maxDataSize)
	}
	return nil
}

// ValidateCalls checks a call bundle. An empty bundle is allowed only when allowEmpty is
// set, as for a bundle that just carries key changes.
func ValidateCalls(calls []types.Call, allowEmpty bool, config *CallsConfig) error {
	maxCalls, maxDataSize := DefaultMaxCalls, DefaultMaxDataSize
	if config != nil {
		if config.MaxCalls > 0 {
			maxCalls = config.MaxCalls
		}
		if config.MaxDataSize > 0 {
			maxDataSize = config.MaxDataSize
		}
	}

	if len(calls) == 0 && !allowEmpty {
		return fmt.Errorf("calls cannot be empty")
	}
	if len(calls) > maxCalls {
		return fmt.Errorf("too many calls: %d > %d max", len(calls), maxCalls)
	}

	for i, call := range calls {
		if err := ValidateCall(call, maxDataSize); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
	}
	return nil
}
