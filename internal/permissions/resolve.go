package permissions

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// ResolveOptions constrain signing key selection
type ResolveOptions struct {
	// PermissionsID pins the key to use
	PermissionsID *common.Hash
	// CanSign reports whether a signature can be produced for the key. Nil accepts all keys.
	CanSign func(types.Key) bool
	// Now is the current unix time used for expiry checks
	Now uint64
}

func (o ResolveOptions) usable(k types.Key) bool {
	if k.Expired(o.Now) {
		return false
	}
	return o.CanSign == nil || o.CanSign(k)
}

// ResolveSigningKey picks the key that signs calls, in order:
//  1. the key named by PermissionsID,
//  2. the first usable session key whose call permissions cover every call,
//  3. the first usable admin key.
func ResolveSigningKey(keys []types.Key, calls []types.Call, opts ResolveOptions) (types.Key, error) {
	if opts.PermissionsID != nil {
		for _, k := range keys {
			if k.ID() == *opts.PermissionsID {
				if !opts.usable(k) {
					break
				}
				return k, nil
			}
		}
		return types.Key{}, apperrors.ErrNoAuthorizedKey.WithDetail(fmt.Sprintf("key %s is missing, expired or cannot sign", opts.PermissionsID.Hex()))
	}

	if len(calls) > 0 {
		for _, k := range keys {
			if k.Role == types.RoleSession && opts.usable(k) && k.Permissions.Covers(calls) {
				return k, nil
			}
		}
	}

	if k, ok := ResolveAdminKey(keys, opts); ok {
		return k, nil
	}
	return types.Key{}, apperrors.ErrNoAuthorizedKey
}

// ResolveAdminKey returns the first usable admin key
func ResolveAdminKey(keys []types.Key, opts ResolveOptions) (types.Key, bool) {
	for _, k := range keys {
		if k.IsAdmin() && opts.usable(k) {
			return k, true
		}
	}
	return types.Key{}, false
}
