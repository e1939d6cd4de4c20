package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/better-wallet/smart-account/internal/app"
	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/pkg/types"
)

// AccountService is the subset of app.AccountService used by the API layer.
// It is an interface to allow handler-level unit tests without a relay.
type AccountService interface {
	CreateAccount(ctx context.Context, session *app.Session, req *app.CreateAccountRequest) (*app.CreateAccountResponse, error)
	LoadAccounts(ctx context.Context, session *app.Session, req *app.LoadAccountsRequest) (*app.LoadAccountsResponse, error)
	GrantPermissions(ctx context.Context, account *types.Account, req *permissions.Request, feeToken string) (*app.GrantPermissionsResponse, error)
	GrantAdmin(ctx context.Context, account *types.Account, key types.Key, feeToken string) (*types.Key, error)
	RevokePermissions(ctx context.Context, account *types.Account, keyID common.Hash, feeToken string) (*types.Account, error)
	RevokeAdmin(ctx context.Context, account *types.Account, keyID common.Hash, feeToken string) (*types.Account, error)
	PrepareCalls(ctx context.Context, account *types.Account, calls []types.Call, opts app.PrepareCallsOptions) (*app.PreparedCalls, error)
	SendCalls(ctx context.Context, account *types.Account, calls []types.Call, opts app.SendCallsOptions) (*app.SendCallsResponse, error)
	UpdateAccount(ctx context.Context, account *types.Account) (*app.UpdateAccountResponse, error)
	SignPersonalMessage(ctx context.Context, account *types.Account, message []byte) (hexutil.Bytes, error)
	SignTypedData(ctx context.Context, account *types.Account, typedData apitypes.TypedData) (hexutil.Bytes, error)
	PendingPreCalls(ctx context.Context, address common.Address) ([]types.PreCall, error)
	ClearPreCalls(ctx context.Context, address common.Address) error
}

var _ AccountService = (*app.AccountService)(nil)
