package keyexec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/hkdf"
)

// Share names which half of a split key a ciphertext protects. Providers bind the
// ciphertext to it, so an auth share cannot be decrypted in the exec slot or vice versa.
type Share string

const (
	ShareAuth Share = "auth"
	ShareExec Share = "exec"
)

// KMSProvider envelope-encrypts key shares at rest
type KMSProvider interface {
	Encrypt(ctx context.Context, share Share, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, share Share, ciphertext []byte) ([]byte, error)

	// Name is the provider name: "local", "aws-kms" or "vault"
	Name() string
}

// KMSProviderType represents supported KMS providers
type KMSProviderType string

const (
	KMSProviderLocal  KMSProviderType = "local"
	KMSProviderAWSKMS KMSProviderType = "aws-kms"
	KMSProviderVault  KMSProviderType = "vault"
)

// localKeyInfo binds derived master keys and AEAD tags to this use
const localKeyInfo = "smart-account/key-shares/v1"

// KMSConfig contains configuration for KMS providers
type KMSConfig struct {
	Provider string

	// LocalMasterKey is either 64 hex characters or a passphrase run through HKDF-SHA256
	LocalMasterKey string

	AWSKMSKeyID  string
	AWSKMSRegion string

	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// LocalKMSProvider implements KMSProvider with AES-256-GCM under a local master key
type LocalKMSProvider struct {
	aead cipher.AEAD
}

// NewLocalKMSProvider creates a new local KMS provider
func NewLocalKMSProvider(masterKey string) (*LocalKMSProvider, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required for local KMS provider")
	}

	key, err := deriveMasterKey(masterKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalKMSProvider{aead: aead}, nil
}

func deriveMasterKey(secret string) ([]byte, error) {
	if len(secret) == 64 {
		if key, err := hex.DecodeString(secret); err == nil {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(localKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext as nonce||ciphertext with the share name as associated data
func (p *LocalKMSProvider) Encrypt(ctx context.Context, share Share, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, shareAD(share)), nil
}

func (p *LocalKMSProvider) Decrypt(ctx context.Context, share Share, ciphertext []byte) ([]byte, error) {
	nonceSize := p.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := p.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], shareAD(share))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s share: %w", share, err)
	}
	return plaintext, nil
}

func (p *LocalKMSProvider) Name() string {
	return string(KMSProviderLocal)
}

func shareAD(share Share) []byte {
	return []byte(localKeyInfo + "/" + string(share))
}

// AWSKMSProvider implements KMSProvider using AWS KMS
type AWSKMSProvider struct {
	keyID  string
	client *kms.Client
}

// NewAWSKMSProvider creates a new AWS KMS provider using the default credential chain
func NewAWSKMSProvider(keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt encrypts with the share name in the KMS encryption context
func (p *AWSKMSProvider) Encrypt(ctx context.Context, share Share, plaintext []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(p.keyID),
		Plaintext:         plaintext,
		EncryptionContext: encryptionContext(share),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

func (p *AWSKMSProvider) Decrypt(ctx context.Context, share Share, ciphertext []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    ciphertext,
		EncryptionContext: encryptionContext(share),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

func (p *AWSKMSProvider) Name() string {
	return string(KMSProviderAWSKMS)
}

func encryptionContext(share Share) map[string]string {
	return map[string]string{"purpose": localKeyInfo, "share": string(share)}
}

// VaultProvider implements KMSProvider using the Vault Transit engine
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a new Vault provider
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Encrypt returns the transit ciphertext ("vault:v1:...") as bytes. The share name is sent
// as associated data, which the transit key must support (aes256-gcm96 or chacha20-poly1305).
func (p *VaultProvider) Encrypt(ctx context.Context, share Share, plaintext []byte) ([]byte, error) {
	ciphertext, err := p.transit(ctx, "encrypt", share, "ciphertext", map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, err
	}
	return []byte(ciphertext), nil
}

func (p *VaultProvider) Decrypt(ctx context.Context, share Share, ciphertext []byte) ([]byte, error) {
	encoded, err := p.transit(ctx, "decrypt", share, "plaintext", map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

func (p *VaultProvider) Name() string {
	return string(KMSProviderVault)
}

// transit writes body to transit/<op>/<key> and returns the string field out of the response
func (p *VaultProvider) transit(ctx context.Context, op string, share Share, out string, body map[string]interface{}) (string, error) {
	body["associated_data"] = base64.StdEncoding.EncodeToString([]byte(share))

	secret, err := p.client.Logical().WriteWithContext(ctx, fmt.Sprintf("transit/%s/%s", op, p.transitKey), body)
	if err != nil {
		return "", fmt.Errorf("vault transit %s failed: %w", op, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault transit %s returned empty response", op)
	}

	value, ok := secret.Data[out].(string)
	if !ok {
		return "", fmt.Errorf("vault transit %s: %s not found in response", op, out)
	}
	return value, nil
}

// NewKMSProvider creates a KMSProvider based on the configuration
func NewKMSProvider(cfg *KMSConfig) (KMSProvider, error) {
	provider := KMSProviderType(cfg.Provider)

	switch provider {
	case KMSProviderLocal, "":
		return NewLocalKMSProvider(cfg.LocalMasterKey)
	case KMSProviderAWSKMS:
		return NewAWSKMSProvider(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case KMSProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unsupported KMS provider: %s (supported: %s, %s, %s)",
			provider, KMSProviderLocal, KMSProviderAWSKMS, KMSProviderVault)
	}
}

var (
	_ KMSProvider = (*LocalKMSProvider)(nil)
	_ KMSProvider = (*AWSKMSProvider)(nil)
	_ KMSProvider = (*VaultProvider)(nil)
)
