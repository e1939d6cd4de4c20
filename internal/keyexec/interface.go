package keyexec

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/pkg/types"
)

// KeyExecutor generates keys whose signing material is held locally and signs with them
type KeyExecutor interface {
	// GenerateKey creates a key on the given curve and returns its encrypted shares
	GenerateKey(ctx context.Context, curve string) (*GeneratedKey, error)

	// SignDigest reconstructs the key from its shares and signs a 32-byte digest.
	// With prehash the digest is hashed with SHA-256 first.
	SignDigest(ctx context.Context, material *types.LocalMaterial, digest []byte, prehash bool) ([]byte, error)
}

// GeneratedKey is a freshly generated key
type GeneratedKey struct {
	Curve     string
	PublicKey []byte

	// Address is set for secp256k1 keys only
	Address common.Address

	Material *types.LocalMaterial
}
