package crypto

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// Local key material is split 2-of-2: neither share alone reveals the key.
const (
	shareThreshold = 2
	shareCount     = 2

	// minShareLen is a 32-byte scalar plus the 1-byte share tag
	minShareLen = 33
)

// KeyShares is a private key split into an auth share and an exec share
type KeyShares struct {
	AuthShare []byte
	ExecShare []byte
}

// SplitKey splits a private key scalar into two shares
func SplitKey(key []byte) (*KeyShares, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("key cannot be empty")
	}

	shares, err := shamir.Split(key, shareCount, shareThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split key: %w", err)
	}

	return &KeyShares{AuthShare: shares[0], ExecShare: shares[1]}, nil
}

// CombineShares reconstructs a private key scalar from its auth and exec shares
func CombineShares(authShare, execShare []byte) ([]byte, error) {
	if err := ValidateShare(authShare); err != nil {
		return nil, fmt.Errorf("auth share: %w", err)
	}
	if err := ValidateShare(execShare); err != nil {
		return nil, fmt.Errorf("exec share: %w", err)
	}

	key, err := shamir.Combine([][]byte{authShare, execShare})
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return key, nil
}

// ValidateShare checks the share format only, not its cryptographic validity
func ValidateShare(share []byte) error {
	if len(share) == 0 {
		return fmt.Errorf("share cannot be empty")
	}
	if len(share) < minShareLen {
		return fmt.Errorf("share too short: expected at least %d bytes, got %d", minShareLen, len(share))
	}
	return nil
}
