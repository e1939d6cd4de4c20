// Package siwe builds and signs EIP-4361 Sign-In with Ethereum messages.
package siwe

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/better-wallet/smart-account/pkg/types"
)

// Version is the only message version defined by EIP-4361
const Version = "1"

const minNonceLength = 8

// Message is an EIP-4361 message
type Message struct {
	Scheme         string
	Domain         string
	Address        common.Address
	Statement      string
	URI            string
	Version        string
	ChainID        uint64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time
	RequestID      string
	Resources      []string
}

// Signer signs 32-byte digests with a key
type Signer interface {
	Sign(ctx context.Context, digest []byte, key types.Key) ([]byte, error)
}

// Signed is a message together with its signature
type Signed struct {
	Message   string        `json:"message"`
	Signature hexutil.Bytes `json:"signature"`
}

// GenerateNonce returns a random 32-character alphanumeric nonce
func GenerateNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate checks the fields EIP-4361 requires
func (m *Message) Validate() error {
	if m.Domain == "" || strings.ContainsAny(m.Domain, " \n/") {
		return fmt.Errorf("invalid domain: %q", m.Domain)
	}
	if m.Address == (common.Address{}) {
		return fmt.Errorf("address is required")
	}
	if strings.Contains(m.Statement, "\n") {
		return fmt.Errorf("statement must not contain newlines")
	}
	if u, err := url.Parse(m.URI); err != nil || u.Scheme == "" {
		return fmt.Errorf("invalid uri: %q", m.URI)
	}
	if m.Version != Version {
		return fmt.Errorf("invalid version: %q", m.Version)
	}
	if m.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	if !validNonce(m.Nonce) {
		return fmt.Errorf("invalid nonce: must be at least %d alphanumeric characters", minNonceLength)
	}
	for _, resource := range m.Resources {
		if u, err := url.Parse(resource); err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid resource: %q", resource)
		}
	}
	if m.ExpirationTime != nil && m.NotBefore != nil && !m.ExpirationTime.After(*m.NotBefore) {
		return fmt.Errorf("expiration time must be after not before")
	}
	return nil
}

func validNonce(nonce string) bool {
	if len(nonce) < minNonceLength {
		return false
	}
	for _, r := range nonce {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// String renders the message in EIP-4361 format
func (m *Message) String() string {
	var b strings.Builder

	origin := m.Domain
	if m.Scheme != "" {
		origin = m.Scheme + "://" + m.Domain
	}
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n%s\n\n", origin, m.Address.Hex())
	if m.Statement != "" {
		b.WriteString(m.Statement)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "URI: %s\nVersion: %s\nChain ID: %d\nNonce: %s\nIssued At: %s",
		m.URI, m.Version, m.ChainID, m.Nonce, formatTime(m.IssuedAt))
	if m.ExpirationTime != nil {
		fmt.Fprintf(&b, "\nExpiration Time: %s", formatTime(*m.ExpirationTime))
	}
	if m.NotBefore != nil {
		fmt.Fprintf(&b, "\nNot Before: %s", formatTime(*m.NotBefore))
	}
	if m.RequestID != "" {
		fmt.Fprintf(&b, "\nRequest ID: %s", m.RequestID)
	}
	if len(m.Resources) > 0 {
		b.WriteString("\nResources:")
		for _, resource := range m.Resources {
			fmt.Fprintf(&b, "\n- %s", resource)
		}
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Digest is the EIP-191 personal message hash of the rendered message
func (m *Message) Digest() []byte {
	return accounts.TextHash([]byte(m.String()))
}

// Sign validates and signs the message with key. With wrap the signature carries the
// key id suffix the account uses for ERC-1271 verification.
func (m *Message) Sign(ctx context.Context, signer Signer, key types.Key, wrap bool) (*Signed, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	signature, err := signer.Sign(ctx, m.Digest(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	if wrap {
		signature = key.WrapSignature(signature)
	}
	return &Signed{Message: m.String(), Signature: signature}, nil
}

// Params are the caller supplied parts of a message
type Params struct {
	Scheme         string     `json:"scheme,omitempty"`
	Domain         string     `json:"domain,omitempty"`
	URI            string     `json:"uri,omitempty"`
	ChainID        uint64     `json:"chainId,omitempty"`
	Statement      string     `json:"statement,omitempty"`
	Nonce          string     `json:"nonce,omitempty"`
	IssuedAt       *time.Time `json:"issuedAt,omitempty"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
	NotBefore      *time.Time `json:"notBefore,omitempty"`
	RequestID      string     `json:"requestId,omitempty"`
	Resources      []string   `json:"resources,omitempty"`
}

// New builds a message for address. A missing nonce is generated and a missing
// issue time is now.
func New(address common.Address, p Params, now time.Time) *Message {
	m := &Message{
		Scheme:         p.Scheme,
		Domain:         p.Domain,
		Address:        address,
		Statement:      p.Statement,
		URI:            p.URI,
		Version:        Version,
		ChainID:        p.ChainID,
		Nonce:          p.Nonce,
		IssuedAt:       now,
		ExpirationTime: p.ExpirationTime,
		NotBefore:      p.NotBefore,
		RequestID:      p.RequestID,
		Resources:      p.Resources,
	}
	if m.Nonce == "" {
		m.Nonce = GenerateNonce()
	}
	if p.IssuedAt != nil {
		m.IssuedAt = *p.IssuedAt
	}
	return m
}
