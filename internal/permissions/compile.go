package permissions

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

// Request asks for a session key scoped by permissions
type Request struct {
	Expiry      uint64             `json:"expiry"`
	FeeLimit    *FeeLimit          `json:"feeLimit,omitempty"`
	Permissions RequestPermissions `json:"permissions"`
	Key         *RequestKey        `json:"key,omitempty"`
}

// FeeLimit caps fees paid by the key per day. Value is a decimal amount of Currency.
type FeeLimit struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

// RequestPermissions are the requested scopes
type RequestPermissions struct {
	Calls                 []types.CallPermission       `json:"calls"`
	Spend                 []SpendRequest               `json:"spend,omitempty"`
	SignatureVerification *types.SignatureVerification `json:"signatureVerification,omitempty"`
}

// SpendRequest is a spend limit with a hex quantity
type SpendRequest struct {
	Limit  string            `json:"limit"`
	Period types.SpendPeriod `json:"period"`
	Token  *common.Address   `json:"token,omitempty"`
}

// RequestKey names an existing public key to authorize instead of generating one
type RequestKey struct {
	PublicKey hexutil.Bytes `json:"publicKey"`
	Type      types.KeyType `json:"type"`
}

// Generator creates a fresh key with local signing material
type Generator func(ctx context.Context) (types.Key, error)

// Options are the inputs ToKey needs besides the request
type Options struct {
	FeeTokens []types.FeeToken
	Generate  Generator
}

// ToKey compiles a permissions request into a session key. A nil request yields a nil key.
func ToKey(ctx context.Context, req *Request, opts Options) (*types.Key, error) {
	if req == nil {
		return nil, nil
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	defaultToken := common.Address{}
	if len(opts.FeeTokens) > 0 {
		defaultToken = opts.FeeTokens[0].Address
	}

	perms := &types.Permissions{
		Calls:                 append([]types.CallPermission(nil), req.Permissions.Calls...),
		SignatureVerification: req.Permissions.SignatureVerification,
	}
	for _, s := range req.Permissions.Spend {
		limit, err := hexutil.DecodeBig(s.Limit)
		if err != nil {
			return nil, apperrors.InvalidPermissions(fmt.Sprintf("spend limit %q: %v", s.Limit, err))
		}
		token := defaultToken
		if s.Token != nil {
			token = *s.Token
		}
		perms.Spend = append(perms.Spend, types.SpendPermission{Limit: limit, Period: s.Period, Token: &token})
	}

	if req.FeeLimit != nil {
		if err := applyFeeLimit(perms, req.FeeLimit, opts.FeeTokens); err != nil {
			return nil, err
		}
	}

	var key types.Key
	if req.Key != nil {
		k, err := types.NewKey(req.Key.Type, req.Key.PublicKey, "")
		if err != nil {
			return nil, apperrors.InvalidPermissions(err.Error())
		}
		key = k
	} else {
		if opts.Generate == nil {
			return nil, apperrors.InvalidPermissions("no key given and no key generator configured")
		}
		k, err := opts.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
		key = k
	}

	key.Role = types.RoleSession
	key.Expiry = req.Expiry
	key.Permissions = perms
	return &key, nil
}

func validate(req *Request) error {
	if req.Expiry < 1 {
		return apperrors.InvalidPermissions("expiry must be at least 1")
	}
	if len(req.Permissions.Calls) == 0 {
		return apperrors.InvalidPermissions("permissions.calls must not be empty")
	}
	for _, s := range req.Permissions.Spend {
		if !s.Period.Valid() {
			return apperrors.InvalidPermissions(fmt.Sprintf("unknown spend period %q", s.Period))
		}
	}
	if req.Key != nil && !req.Key.Type.Valid() {
		return apperrors.InvalidPermissions(fmt.Sprintf("unknown key type %q", req.Key.Type))
	}
	return nil
}

// applyFeeLimit folds the fee limit into a daily spend on the fee token
func applyFeeLimit(perms *types.Permissions, limit *FeeLimit, feeTokens []types.FeeToken) error {
	var token *types.FeeToken
	for i := range feeTokens {
		if feeTokens[i].Matches(limit.Currency) {
			token = &feeTokens[i]
			break
		}
	}
	if token == nil {
		return apperrors.InvalidPermissions(fmt.Sprintf("fee limit currency %q is not a fee token", limit.Currency))
	}

	amount, err := ParseUnits(limit.Value, token.Decimals)
	if err != nil {
		return apperrors.InvalidPermissions(fmt.Sprintf("fee limit value: %v", err))
	}

	for i, s := range perms.Spend {
		if s.Period == types.PeriodDay && s.Token != nil && *s.Token == token.Address {
			perms.Spend[i].Limit = new(big.Int).Add(s.Limit, amount)
			return nil
		}
	}
	addr := token.Address
	perms.Spend = append(perms.Spend, types.SpendPermission{Limit: amount, Period: types.PeriodDay, Token: &addr})
	return nil
}

// ParseUnits converts a decimal amount such as "1.5" into base units
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", value, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))

	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok || amount.Sign() < 0 || strings.ContainsAny(digits, "+-") {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
