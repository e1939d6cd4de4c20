package signer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/internal/keyexec"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// Signer produces raw signatures over digests for account keys. Discover and
// CreateCredential reach the platform authenticator for WebAuthn logins and new accounts.
type Signer interface {
	Sign(ctx context.Context, digest []byte, key types.Key) ([]byte, error)
	CanSign(key types.Key) bool
	Discover(ctx context.Context, digest []byte) (*Assertion, error)
	CreateCredential(ctx context.Context, userID common.Address, label string) (types.Key, error)
}

// Assertion is the result of a discoverable-credential WebAuthn assertion
type Assertion struct {
	// Address comes from the credential's user handle
	Address      common.Address
	CredentialID string
	Signature    []byte
}

// Authenticator is the platform WebAuthn capability. Calls may block on user interaction.
type Authenticator interface {
	// CreateCredential registers a credential whose user handle is the account address
	// and returns the resulting admin key.
	CreateCredential(ctx context.Context, userID common.Address, label string) (types.Key, error)

	// Assert signs digest with a known credential
	Assert(ctx context.Context, digest []byte, key types.Key) ([]byte, error)

	// Discover signs digest with whichever credential the user picks
	Discover(ctx context.Context, digest []byte) (*Assertion, error)
}

// Router dispatches signing to the local key executor or the authenticator
type Router struct {
	executor keyexec.KeyExecutor
	auth     Authenticator
}

// NewRouter creates a Router. auth may be nil in headless deployments.
func NewRouter(executor keyexec.KeyExecutor, auth Authenticator) *Router {
	return &Router{executor: executor, auth: auth}
}

// CanSign reports whether Sign can produce a signature for key
func (r *Router) CanSign(key types.Key) bool {
	if key.HasLocalMaterial() {
		return r.executor != nil
	}
	if key.Type() != types.KeyTypeWebAuthnP256 || r.auth == nil {
		return false
	}
	id, _ := key.CredentialID()
	return id != ""
}

// Sign signs digest with key. Keys holding local material never reach the authenticator.
func (r *Router) Sign(ctx context.Context, digest []byte, key types.Key) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}

	if key.HasLocalMaterial() {
		if r.executor == nil {
			return nil, apperrors.ErrNoSigningMaterial
		}
		sig, err := r.executor.SignDigest(ctx, key.Local, digest, key.Prehash)
		if err != nil {
			return nil, fmt.Errorf("failed to sign with local key: %w", err)
		}
		return sig, nil
	}

	if !r.CanSign(key) {
		return nil, apperrors.ErrNoSigningMaterial.WithDetail(fmt.Sprintf("key %s (%s)", key.ID().Hex(), key.Type()))
	}

	sig, err := r.auth.Assert(ctx, digest, key)
	if err != nil {
		return nil, fmt.Errorf("webauthn assertion failed: %w", err)
	}
	return sig, nil
}

// Discover runs a discoverable-credential assertion over digest
func (r *Router) Discover(ctx context.Context, digest []byte) (*Assertion, error) {
	if r.auth == nil {
		return nil, errNoAuthenticator("credential discovery")
	}
	assertion, err := r.auth.Discover(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("credential discovery failed: %w", err)
	}
	return assertion, nil
}

// CreateCredential registers a WebAuthn credential for userID and returns it as an admin key
func (r *Router) CreateCredential(ctx context.Context, userID common.Address, label string) (types.Key, error) {
	if r.auth == nil {
		return types.Key{}, errNoAuthenticator("admin credential creation")
	}
	key, err := r.auth.CreateCredential(ctx, userID, label)
	if err != nil {
		return types.Key{}, fmt.Errorf("failed to create admin credential: %w", err)
	}
	key.Role = types.RoleAdmin
	return key, nil
}

func errNoAuthenticator(op string) error {
	return fmt.Errorf("no authenticator configured for %s", op)
}

var _ Signer = (*Router)(nil)
