package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Supported curves for locally held keys
const (
	CurveSecp256k1 = "secp256k1"
	CurveP256      = "p256"
)

var (
	p256N     = elliptic.P256().Params().N
	p256HalfN = new(big.Int).Rsh(p256N, 1)
)

// GenerateEthereumKey generates a new Ethereum private key
func GenerateEthereumKey() (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privateKey, nil
}

// GenerateP256Key generates a new P-256 private key
func GenerateP256Key() (*ecdsa.PrivateKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate p256 key: %w", err)
	}
	return privateKey, nil
}

// GenerateKey generates a private key on the named curve
func GenerateKey(curve string) (*ecdsa.PrivateKey, error) {
	switch curve {
	case CurveSecp256k1:
		return GenerateEthereumKey()
	case CurveP256:
		return GenerateP256Key()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", curve)
	}
}

// GetEthereumAddress derives the Ethereum address from a private key
func GetEthereumAddress(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// PrivateKeyToBytes converts a private key to its 32-byte scalar
func PrivateKeyToBytes(privateKey *ecdsa.PrivateKey) []byte {
	return common.LeftPadBytes(privateKey.D.Bytes(), 32)
}

// BytesToPrivateKey converts a 32-byte scalar to a private key on the named curve
func BytesToPrivateKey(curve string, b []byte) (*ecdsa.PrivateKey, error) {
	switch curve {
	case CurveSecp256k1:
		return crypto.ToECDSA(b)
	case CurveP256:
		if len(b) != 32 {
			return nil, fmt.Errorf("invalid p256 key length: %d", len(b))
		}
		d := new(big.Int).SetBytes(b)
		if d.Sign() == 0 || d.Cmp(p256N) >= 0 {
			return nil, fmt.Errorf("invalid p256 private key")
		}
		priv := &ecdsa.PrivateKey{D: d}
		priv.PublicKey.Curve = elliptic.P256()
		priv.PublicKey.X, priv.PublicKey.Y = elliptic.P256().ScalarBaseMult(b)
		return priv, nil
	default:
		return nil, fmt.Errorf("unsupported curve: %s", curve)
	}
}

// PublicKeyBytes returns the public key in the form the account contract expects:
// the 64-byte x||y coordinates for both curves.
func PublicKeyBytes(curve string, privateKey *ecdsa.PrivateKey) []byte {
	if curve == CurveSecp256k1 {
		return crypto.FromECDSAPub(&privateKey.PublicKey)[1:]
	}
	out := make([]byte, 0, 64)
	out = append(out, common.LeftPadBytes(privateKey.PublicKey.X.Bytes(), 32)...)
	return append(out, common.LeftPadBytes(privateKey.PublicKey.Y.Bytes(), 32)...)
}

// SignDigest signs a 32-byte digest.
//
// secp256k1 signatures are r||s||v with v in {27, 28}. P-256 signatures are r||s with
// s normalized to the lower half of the curve order. When prehash is set the digest is
// hashed with SHA-256 before signing.
func SignDigest(curve string, privateKey *ecdsa.PrivateKey, digest []byte, prehash bool) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	if prehash {
		sum := sha256.Sum256(digest)
		digest = sum[:]
	}

	switch curve {
	case CurveSecp256k1:
		sig, err := crypto.Sign(digest, privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign digest: %w", err)
		}
		sig[64] += 27
		return sig, nil
	case CurveP256:
		r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest)
		if err != nil {
			return nil, fmt.Errorf("failed to sign digest: %w", err)
		}
		if s.Cmp(p256HalfN) > 0 {
			s = new(big.Int).Sub(p256N, s)
		}
		out := make([]byte, 0, 64)
		out = append(out, common.LeftPadBytes(r.Bytes(), 32)...)
		return append(out, common.LeftPadBytes(s.Bytes(), 32)...), nil
	default:
		return nil, fmt.Errorf("unsupported curve: %s", curve)
	}
}

// ZeroBytes overwrites b with zeros
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
