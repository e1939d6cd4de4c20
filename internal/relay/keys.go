package relay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/better-wallet/smart-account/pkg/types"
)

// Permission kinds on the wire
const (
	PermissionCall  = "call"
	PermissionSpend = "spend"
)

// wire role of a session key
const roleNormal = "normal"

// Permission is one flattened call or spend permission
type Permission struct {
	Type     string            `json:"type"`
	To       *common.Address   `json:"to,omitempty"`
	Selector *types.Selector   `json:"selector,omitempty"`
	Limit    *hexutil.Big      `json:"limit,omitempty"`
	Period   types.SpendPeriod `json:"period,omitempty"`
	Token    *common.Address   `json:"token,omitempty"`
}

// AuthorizeKey is the relay form of a key
type AuthorizeKey struct {
	Expiry      hexutil.Uint64 `json:"expiry"`
	Prehash     bool           `json:"prehash"`
	PublicKey   hexutil.Bytes  `json:"publicKey"`
	Role        string         `json:"role"`
	Type        types.KeyType  `json:"type"`
	Permissions []Permission   `json:"permissions"`
}

// KeyEntry is one element of the wallet_getKeys result
type KeyEntry struct {
	Hash        common.Hash  `json:"hash"`
	Key         AuthorizeKey `json:"key"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// EncodeKey converts a key to its relay form
func EncodeKey(k types.Key) AuthorizeKey {
	role := roleNormal
	if k.IsAdmin() {
		role = string(types.RoleAdmin)
	}

	out := AuthorizeKey{
		Expiry:      hexutil.Uint64(k.Expiry),
		Prehash:     k.Prehash,
		PublicKey:   k.PublicKey(),
		Role:        role,
		Type:        k.Type(),
		Permissions: []Permission{},
	}
	if k.Permissions == nil {
		return out
	}

	for _, c := range k.Permissions.Calls {
		out.Permissions = append(out.Permissions, Permission{
			Type:     PermissionCall,
			To:       c.To,
			Selector: c.Selector,
		})
	}
	for _, s := range k.Permissions.Spend {
		out.Permissions = append(out.Permissions, Permission{
			Type:   PermissionSpend,
			Limit:  (*hexutil.Big)(s.Limit),
			Period: s.Period,
			Token:  s.Token,
		})
	}
	return out
}

// EncodeKeys converts keys to their relay form
func EncodeKeys(keys []types.Key) []AuthorizeKey {
	out := make([]AuthorizeKey, len(keys))
	for i, k := range keys {
		out[i] = EncodeKey(k)
	}
	return out
}

// DecodeKey converts a relay key back to the key model. WebAuthn keys come back
// without credential metadata; callers bind it separately.
func DecodeKey(w AuthorizeKey, extra ...Permission) (types.Key, error) {
	key, err := types.NewKey(w.Type, w.PublicKey, "")
	if err != nil {
		return types.Key{}, err
	}

	role, err := types.ParseRole(w.Role)
	if err != nil {
		return types.Key{}, err
	}
	key.Role = role
	key.Expiry = uint64(w.Expiry)
	key.Prehash = w.Prehash

	perms := append(append([]Permission{}, w.Permissions...), extra...)
	if len(perms) == 0 {
		return key, nil
	}

	p := &types.Permissions{}
	for _, perm := range perms {
		switch perm.Type {
		case PermissionCall:
			p.Calls = append(p.Calls, types.CallPermission{To: perm.To, Selector: perm.Selector})
		case PermissionSpend:
			p.Spend = append(p.Spend, types.SpendPermission{
				Limit:  types.Uint(perm.Limit),
				Period: perm.Period,
				Token:  perm.Token,
			})
		default:
			return types.Key{}, fmt.Errorf("unknown permission type: %q", perm.Type)
		}
	}
	key.Permissions = p
	return key, nil
}
