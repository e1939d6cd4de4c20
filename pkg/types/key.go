package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyType identifies the credential scheme of a key
type KeyType string

const (
	KeyTypeAddress      KeyType = "address"
	KeyTypeSecp256k1    KeyType = "secp256k1"
	KeyTypeP256         KeyType = "p256"
	KeyTypeWebAuthnP256 KeyType = "webauthn-p256"
)

// index returns the on-chain key type discriminator used in key hashes
func (t KeyType) index() uint8 {
	switch t {
	case KeyTypeP256:
		return 0
	case KeyTypeWebAuthnP256:
		return 1
	default:
		return 2
	}
}

// Valid reports whether t is a known key type
func (t KeyType) Valid() bool {
	switch t {
	case KeyTypeAddress, KeyTypeSecp256k1, KeyTypeP256, KeyTypeWebAuthnP256:
		return true
	}
	return false
}

// Role is the authority level of a key on the account
type Role string

const (
	// RoleAdmin has unrestricted authority over the account
	RoleAdmin Role = "admin"
	// RoleSession is scoped by permissions and expiry
	RoleSession Role = "session"
)

// ParseRole parses a role string. "normal" is accepted as an alias of session.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "admin":
		return RoleAdmin, nil
	case "session", "normal":
		return RoleSession, nil
	default:
		return "", fmt.Errorf("unknown key role: %q", s)
	}
}

// LocalMaterial is KMS-encrypted signing material held for a key.
// Both shares are required to reconstruct the private key.
type LocalMaterial struct {
	Curve     string `json:"curve"`
	AuthShare []byte `json:"auth_share"`
	ExecShare []byte `json:"exec_share"`
}

// keyVariant carries the fields specific to one key type.
type keyVariant interface {
	keyType() KeyType
	publicKey() []byte
}

type addressVariant struct{ address common.Address }

func (v addressVariant) keyType() KeyType { return KeyTypeAddress }

// publicKey is the ABI-encoded (left padded) address
func (v addressVariant) publicKey() []byte { return common.LeftPadBytes(v.address.Bytes(), 32) }

type secp256k1Variant struct{ pub []byte }

func (v secp256k1Variant) keyType() KeyType  { return KeyTypeSecp256k1 }
func (v secp256k1Variant) publicKey() []byte { return v.pub }

type p256Variant struct{ pub []byte }

func (v p256Variant) keyType() KeyType  { return KeyTypeP256 }
func (v p256Variant) publicKey() []byte { return v.pub }

type webAuthnVariant struct {
	pub          []byte
	credentialID string
	rpID         string
}

func (v webAuthnVariant) keyType() KeyType  { return KeyTypeWebAuthnP256 }
func (v webAuthnVariant) publicKey() []byte { return v.pub }

// Key is a credential capable of authorizing actions on an account.
// The zero value is not a usable key; build keys with one of the New*Key constructors.
type Key struct {
	variant keyVariant

	Role        Role           `json:"role"`
	Expiry      uint64         `json:"expiry"`
	Permissions *Permissions   `json:"permissions,omitempty"`
	Prehash     bool           `json:"prehash"`
	Local       *LocalMaterial `json:"-"`
}

// NewAddressKey creates a key for an externally owned address
func NewAddressKey(address common.Address) Key {
	return Key{variant: addressVariant{address: address}}
}

// NewSecp256k1Key creates a key for a secp256k1 public key
func NewSecp256k1Key(publicKey []byte) Key {
	return Key{variant: secp256k1Variant{pub: common.CopyBytes(publicKey)}}
}

// NewP256Key creates a key for a raw P-256 public key
func NewP256Key(publicKey []byte) Key {
	return Key{variant: p256Variant{pub: common.CopyBytes(publicKey)}}
}

// NewWebAuthnP256Key creates a key bound to a platform WebAuthn credential
func NewWebAuthnP256Key(publicKey []byte, credentialID, rpID string) Key {
	return Key{variant: webAuthnVariant{
		pub:          common.CopyBytes(publicKey),
		credentialID: credentialID,
		rpID:         rpID,
	}}
}

// NewKey builds the variant for t. Credential metadata is ignored for non-WebAuthn types.
func NewKey(t KeyType, publicKey []byte, credentialID string) (Key, error) {
	switch t {
	case KeyTypeAddress:
		if len(publicKey) != common.AddressLength && len(publicKey) != 32 {
			return Key{}, fmt.Errorf("invalid address key length: %d", len(publicKey))
		}
		return NewAddressKey(common.BytesToAddress(publicKey)), nil
	case KeyTypeSecp256k1:
		return NewSecp256k1Key(publicKey), nil
	case KeyTypeP256:
		return NewP256Key(publicKey), nil
	case KeyTypeWebAuthnP256:
		return NewWebAuthnP256Key(publicKey, credentialID, ""), nil
	default:
		return Key{}, fmt.Errorf("unsupported key type: %q", t)
	}
}

// IsZero reports whether k was never constructed
func (k Key) IsZero() bool { return k.variant == nil }

// Type returns the key type
func (k Key) Type() KeyType {
	if k.variant == nil {
		return ""
	}
	return k.variant.keyType()
}

// PublicKey returns a copy of the public key bytes
func (k Key) PublicKey() []byte {
	if k.variant == nil {
		return nil
	}
	return common.CopyBytes(k.variant.publicKey())
}

// CredentialID returns the WebAuthn credential id. ok is false for other key types.
func (k Key) CredentialID() (id string, ok bool) {
	v, ok := k.variant.(webAuthnVariant)
	if !ok {
		return "", false
	}
	return v.credentialID, true
}

// RPID returns the WebAuthn relying party id, if any.
func (k Key) RPID() string {
	if v, ok := k.variant.(webAuthnVariant); ok {
		return v.rpID
	}
	return ""
}

// WithCredential returns a copy of a WebAuthn key bound to the given credential.
// Other key types are returned unchanged.
func (k Key) WithCredential(credentialID, rpID string) Key {
	v, ok := k.variant.(webAuthnVariant)
	if !ok {
		return k
	}
	v.credentialID = credentialID
	if rpID != "" {
		v.rpID = rpID
	}
	k.variant = v
	return k
}

// ID is keccak256(abi.encode(uint8(type), keccak256(publicKey))), the hash the account
// contract uses to index keys.
func (k Key) ID() common.Hash {
	if k.variant == nil {
		return common.Hash{}
	}
	typeWord := common.LeftPadBytes([]byte{k.Type().index()}, 32)
	return crypto.Keccak256Hash(typeWord, crypto.Keccak256(k.variant.publicKey()))
}

// IsAdmin reports whether the key has the admin role
func (k Key) IsAdmin() bool { return k.Role == RoleAdmin }

// Expired reports whether the key has expired at unix time now
func (k Key) Expired(now uint64) bool {
	return k.Expiry != 0 && k.Expiry <= now
}

// HasLocalMaterial reports whether signing material for the key is held locally
func (k Key) HasLocalMaterial() bool {
	return k.Local != nil && len(k.Local.AuthShare) > 0 && len(k.Local.ExecShare) > 0
}

// WithoutMaterial returns a copy of the key with local signing material removed
func (k Key) WithoutMaterial() Key {
	k.Local = nil
	return k
}

// WrapSignature appends the key id and prehash flag to a raw signature so the account
// can route verification to this key.
func (k Key) WrapSignature(signature []byte) []byte {
	id := k.ID()
	out := make([]byte, 0, len(signature)+common.HashLength+1)
	out = append(out, signature...)
	out = append(out, id.Bytes()...)
	if k.Prehash {
		return append(out, 1)
	}
	return append(out, 0)
}

// Descriptor is the compact key reference sent to the relay
type Descriptor struct {
	Prehash   bool          `json:"prehash"`
	PublicKey hexutil.Bytes `json:"publicKey"`
	Type      KeyType       `json:"type"`
}

// Descriptor returns the relay key reference for k
func (k Key) Descriptor() Descriptor {
	return Descriptor{Prehash: k.Prehash, PublicKey: k.PublicKey(), Type: k.Type()}
}

// keyJSON is the wire shape of a key
type keyJSON struct {
	ID           common.Hash    `json:"id"`
	Type         KeyType        `json:"type"`
	Role         Role           `json:"role"`
	PublicKey    hexutil.Bytes  `json:"publicKey"`
	Expiry       uint64         `json:"expiry"`
	Permissions  *Permissions   `json:"permissions,omitempty"`
	Prehash      bool           `json:"prehash"`
	CredentialID string         `json:"credentialId,omitempty"`
	RPID         string         `json:"rpId,omitempty"`
	Local        *LocalMaterial `json:"local,omitempty"`
}

// MarshalJSON encodes the key. Local material is included only when present; callers
// exposing keys outside the process strip it with WithoutMaterial first.
func (k Key) MarshalJSON() ([]byte, error) {
	if k.variant == nil {
		return []byte("null"), nil
	}
	credID, _ := k.CredentialID()
	return json.Marshal(keyJSON{
		ID:           k.ID(),
		Type:         k.Type(),
		Role:         k.Role,
		PublicKey:    k.PublicKey(),
		Expiry:       k.Expiry,
		Permissions:  k.Permissions,
		Prehash:      k.Prehash,
		CredentialID: credID,
		RPID:         k.RPID(),
		Local:        k.Local,
	})
}

// UnmarshalJSON decodes a key and rebuilds its variant from the type tag
func (k *Key) UnmarshalJSON(data []byte) error {
	var raw keyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key, err := NewKey(raw.Type, raw.PublicKey, raw.CredentialID)
	if err != nil {
		return err
	}
	if raw.RPID != "" {
		key = key.WithCredential(raw.CredentialID, raw.RPID)
	}
	role := raw.Role
	if role != "" {
		if role, err = ParseRole(string(raw.Role)); err != nil {
			return err
		}
	}
	key.Role = role
	key.Expiry = raw.Expiry
	key.Permissions = raw.Permissions
	key.Prehash = raw.Prehash
	key.Local = raw.Local
	*k = key
	return nil
}
