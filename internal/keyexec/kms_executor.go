package keyexec

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/better-wallet/smart-account/internal/crypto"
	"github.com/better-wallet/smart-account/pkg/types"
)

// KMSExecutor implements KeyExecutor using a pluggable KMS provider.
// Both Shamir shares are envelope-encrypted by the provider before leaving the executor.
type KMSExecutor struct {
	provider KMSProvider
}

// NewKMSExecutor creates a new KMS executor with the specified provider config
func NewKMSExecutor(cfg *KMSConfig) (*KMSExecutor, error) {
	provider, err := NewKMSProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS provider: %w", err)
	}
	return NewKMSExecutorWithProvider(provider), nil
}

// NewKMSExecutorWithProvider wraps an existing provider
func NewKMSExecutorWithProvider(provider KMSProvider) *KMSExecutor {
	return &KMSExecutor{provider: provider}
}

// Provider returns the KMS provider name
func (k *KMSExecutor) Provider() string {
	return k.provider.Name()
}

// GenerateKey generates a key and splits it 2-of-2
func (k *KMSExecutor) GenerateKey(ctx context.Context, curve string) (*GeneratedKey, error) {
	privateKey, err := crypto.GenerateKey(curve)
	if err != nil {
		return nil, err
	}
	defer zeroKey(privateKey)

	privateKeyBytes := crypto.PrivateKeyToBytes(privateKey)
	shares, err := crypto.SplitKey(privateKeyBytes)
	crypto.ZeroBytes(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to split key: %w", err)
	}

	authShare, err := k.provider.Encrypt(ctx, ShareAuth, shares.AuthShare)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt auth share: %w", err)
	}
	execShare, err := k.provider.Encrypt(ctx, ShareExec, shares.ExecShare)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt exec share: %w", err)
	}

	out := &GeneratedKey{
		Curve:     curve,
		PublicKey: crypto.PublicKeyBytes(curve, privateKey),
		Material: &types.LocalMaterial{
			Curve:     curve,
			AuthShare: authShare,
			ExecShare: execShare,
		},
	}
	if curve == crypto.CurveSecp256k1 {
		out.Address = crypto.GetEthereumAddress(privateKey)
	}
	return out, nil
}

// SignDigest signs a 32-byte digest with the key held in material
func (k *KMSExecutor) SignDigest(ctx context.Context, material *types.LocalMaterial, digest []byte, prehash bool) ([]byte, error) {
	if material == nil {
		return nil, fmt.Errorf("key material is required")
	}

	privateKey, err := k.reconstructKey(ctx, material)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct key: %w", err)
	}
	defer zeroKey(privateKey)

	return crypto.SignDigest(material.Curve, privateKey, digest, prehash)
}

// reconstructKey decrypts both shares and combines them
func (k *KMSExecutor) reconstructKey(ctx context.Context, material *types.LocalMaterial) (*ecdsa.PrivateKey, error) {
	authShare, err := k.provider.Decrypt(ctx, ShareAuth, material.AuthShare)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt auth share: %w", err)
	}
	defer crypto.ZeroBytes(authShare)

	execShare, err := k.provider.Decrypt(ctx, ShareExec, material.ExecShare)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt exec share: %w", err)
	}
	defer crypto.ZeroBytes(execShare)

	privateKeyBytes, err := crypto.CombineShares(authShare, execShare)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(privateKeyBytes)

	return crypto.BytesToPrivateKey(material.Curve, privateKeyBytes)
}

// zeroKey clears the private scalar
func zeroKey(privateKey *ecdsa.PrivateKey) {
	if privateKey != nil && privateKey.D != nil {
		privateKey.D.SetInt64(0)
	}
}

var _ KeyExecutor = (*KMSExecutor)(nil)
