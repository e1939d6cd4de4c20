package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/smart-account/internal/feetoken"
	"github.com/better-wallet/smart-account/internal/relay"
	"github.com/better-wallet/smart-account/internal/signer"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

func TestGrantPermissions(t *testing.T) {
	ctx := context.Background()

	t.Run("queues a pre-call signed by the admin", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		grant, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)
		assert.Equal(t, types.RoleSession, grant.Key.Role)
		require.Len(t, grant.Account.Keys, 2)
		assert.Equal(t, grant.Key.ID(), grant.Account.Keys[1].ID())
		assert.Len(t, account.Keys, 1, "the input account is not mutated")

		require.Len(t, grant.PreCalls, 1)
		sig := grant.PreCalls[0].Signature
		assert.Equal(t, account.Keys[0].ID().Bytes(), []byte(sig[len(sig)-33:len(sig)-1]))

		prepared := h.relay.lastPrepared()
		assert.True(t, prepared.Capabilities.PreCall)
		assert.Equal(t, account.Keys[0].Descriptor(), *prepared.Key)
		assert.Len(t, h.relay.keysOf(account.Address), 1, "nothing is sent on-chain")
	})

	t.Run("returns the full pending set", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		first, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)
		second, err := h.svc.GrantPermissions(ctx, &first.Account, sessionRequest(otherTarget), "")
		require.NoError(t, err)

		require.Len(t, second.PreCalls, 2)
		assert.Equal(t, preCallIDs(t, first.PreCalls)[0], preCallIDs(t, second.PreCalls)[0])
		assert.Len(t, second.Account.Keys, 3)
	})

	t.Run("discard ledger leaves persistence to the caller", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		svc := NewAccountService(h.relay, signer.NewRouter(h.keys, nil), nil, feetoken.NewResolver(h.relay), h.keys,
			WithChainID(testChainID), WithMockMode(true))
		account := h.createAccount(t, nil)

		for i := 0; i < 2; i++ {
			grant, err := svc.GrantPermissions(ctx, account, sessionRequest(target), "")
			require.NoError(t, err)
			assert.Len(t, grant.PreCalls, 1)
		}
		pending, err := svc.PendingPreCalls(ctx, account.Address)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("no permissions", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		_, err := h.svc.GrantPermissions(ctx, account, nil, "")
		assert.True(t, errors.Is(err, apperrors.ErrInvalidPermissions))
	})

	t.Run("no admin key", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := &types.Account{
			Address: common.HexToAddress("0x00000000000000000000000000000000000000c2"),
			Keys:    []types.Key{types.NewP256Key(make([]byte, 64))},
		}

		_, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		assert.True(t, errors.Is(err, apperrors.ErrNoAdminKey))
	})

	t.Run("fee token preference", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		_, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "ETH")
		require.NoError(t, err)
		assert.Equal(t, common.Address{}, *h.relay.lastPrepared().Capabilities.Meta.FeeToken)
	})
}

func TestGrantAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithMockMode(true))
	account := h.createAccount(t, nil)

	key := types.NewP256Key(make([]byte, 64))
	key.Role = types.RoleSession

	granted, err := h.svc.GrantAdmin(ctx, account, key, "")
	require.NoError(t, err)
	assert.True(t, granted.IsAdmin())

	onchain := h.relay.keysOf(account.Address)
	require.Len(t, onchain, 2)
	assert.Equal(t, key.ID(), onchain[1].ID())
	assert.True(t, onchain[1].IsAdmin())
}

func TestPrepareAndSendCalls(t *testing.T) {
	ctx := context.Background()

	t.Run("granted pre-calls ride the next bundle", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		grant, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)

		calls := []types.Call{{To: otherTarget, Data: []byte{0x01, 0x02, 0x03, 0x04}}}
		prepared, err := h.svc.PrepareCalls(ctx, &grant.Account, calls, PrepareCallsOptions{})
		require.NoError(t, err)
		assert.Equal(t, preCallIDs(t, grant.PreCalls), preCallIDs(t, prepared.PreCalls))
		assert.Equal(t, preCallIDs(t, grant.PreCalls), preCallIDs(t, h.relay.lastPrepared().Capabilities.PreCalls))
		assert.True(t, prepared.Key.IsAdmin(), "the session key does not cover the call")

		resp, err := h.svc.SendCalls(ctx, &grant.Account, calls, SendCallsOptions{})
		require.NoError(t, err)
		require.NotNil(t, resp.Status)
		assert.True(t, resp.Status.Confirmed())
		require.NotNil(t, resp.TransactionHash)

		sub := h.relay.lastSubmitted()
		assert.Equal(t, calls, sub.Intent.Calls)
		assert.Equal(t, preCallIDs(t, grant.PreCalls), preCallIDs(t, sub.Intent.Capabilities.PreCalls))

		onchain := &types.Account{Keys: h.relay.keysOf(account.Address)}
		_, ok := onchain.FindKey(grant.Key.ID())
		assert.True(t, ok, "the session key is authorized on-chain")

		pending, err := h.svc.PendingPreCalls(ctx, account.Address)
		require.NoError(t, err)
		assert.Empty(t, pending)

		t.Run("session key signs covered calls", func(t *testing.T) {
			_, err := h.svc.SendCalls(ctx, &grant.Account, []types.Call{{To: target}}, SendCallsOptions{})
			require.NoError(t, err)
			assert.Equal(t, grant.Key.Descriptor(), h.relay.lastSubmitted().Key)
			assert.Empty(t, h.relay.lastSubmitted().Intent.Capabilities.PreCalls)
		})
	})

	t.Run("failed bundle keeps pre-calls", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)
		grant, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)

		h.relay.status = types.CallsStatusReverted
		resp, err := h.svc.SendCalls(ctx, &grant.Account, []types.Call{{To: otherTarget}}, SendCallsOptions{})
		assert.True(t, errors.Is(err, apperrors.ErrCallsFailed))
		require.NotNil(t, resp)
		assert.Equal(t, types.CallsStatusReverted, resp.Status.Status)

		pending, err := h.svc.PendingPreCalls(ctx, account.Address)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("unconfirmed bundle keeps pre-calls", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true), WithConfirmation(time.Millisecond, 20*time.Millisecond))
		account := h.createAccount(t, nil)
		grant, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)

		h.relay.pendingPolls = -1
		_, err = h.svc.SendCalls(ctx, &grant.Account, []types.Call{{To: otherTarget}}, SendCallsOptions{})
		assert.True(t, errors.Is(err, apperrors.ErrConfirmationTimeout))

		pending, err := h.svc.PendingPreCalls(ctx, account.Address)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("waits through pending polls", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)
		h.relay.pendingPolls = 2

		resp, err := h.svc.SendCalls(ctx, account, []types.Call{{To: otherTarget}}, SendCallsOptions{WaitForReceipt: true})
		require.NoError(t, err)
		require.NotNil(t, resp.Status)
		assert.Equal(t, types.CallsStatusConfirmed, resp.Status.Status)
		assert.Equal(t, 3, h.relay.polls[resp.ID])
	})

	t.Run("without pre-calls does not wait", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		resp, err := h.svc.SendCalls(ctx, account, []types.Call{{To: otherTarget}}, SendCallsOptions{})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.ID)
		assert.Nil(t, resp.Status)
		assert.Zero(t, h.relay.polls[resp.ID])
	})

	t.Run("explicitly empty pre-calls skip the ledger", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)
		grant, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)

		prepared, err := h.svc.PrepareCalls(ctx, &grant.Account, []types.Call{{To: otherTarget}}, PrepareCallsOptions{
			PreCalls: []types.PreCall{},
		})
		require.NoError(t, err)
		assert.Empty(t, prepared.PreCalls)
		assert.Empty(t, h.relay.lastPrepared().Capabilities.PreCalls)
	})

	t.Run("confirmed bundle drops only the pre-calls it carried", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)
		_, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)
		second, err := h.svc.GrantPermissions(ctx, account, sessionRequest(target), "")
		require.NoError(t, err)
		require.Len(t, second.PreCalls, 2)

		resp, err := h.svc.SendCalls(ctx, account, []types.Call{{To: otherTarget}}, SendCallsOptions{
			PreCalls: second.PreCalls[:1],
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Status)
		assert.True(t, resp.Status.Confirmed())

		pending, err := h.svc.PendingPreCalls(ctx, account.Address)
		require.NoError(t, err)
		assert.Equal(t, preCallIDs(t, second.PreCalls[1:]), preCallIDs(t, pending))
	})

	t.Run("pinned key", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		unknown := common.HexToHash("0x01")
		_, err := h.svc.PrepareCalls(ctx, account, nil, PrepareCallsOptions{PermissionsID: &unknown})
		assert.True(t, errors.Is(err, apperrors.ErrNoAuthorizedKey))

		adminID := account.Keys[0].ID()
		prepared, err := h.svc.PrepareCalls(ctx, account, nil, PrepareCallsOptions{PermissionsID: &adminID})
		require.NoError(t, err)
		assert.Equal(t, adminID, prepared.Key.ID())
	})

	t.Run("key changes travel with the intent", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)
		extra := types.NewP256Key(make([]byte, 64))

		prepared, err := h.svc.PrepareCalls(ctx, account, nil, PrepareCallsOptions{
			AuthorizeKeys: []types.Key{extra},
			RevokeKeys:    []common.Hash{common.HexToHash("0x02")},
		})
		require.NoError(t, err)
		require.NotNil(t, prepared)

		caps := h.relay.lastPrepared().Capabilities
		require.Len(t, caps.AuthorizeKeys, 1)
		assert.Equal(t, "normal", caps.AuthorizeKeys[0].Role)
		assert.Equal(t, []relay.RevokeKey{{Hash: common.HexToHash("0x02")}}, caps.RevokeKeys)
	})
}

func TestQuote(t *testing.T) {
	ctx := context.Background()
	current := time.Unix(1_900_000_000, 0)
	clock := func() time.Time { return current }

	h := newHarness(t, WithMockMode(true), WithClock(clock))
	h.relay.now = clock
	h.relay.quoteTTL = 30 * time.Second
	account := h.createAccount(t, nil)
	calls := []types.Call{{To: otherTarget}}

	t.Run("a sent quote cannot be sent again", func(t *testing.T) {
		prepared, err := h.svc.PrepareCalls(ctx, account, calls, PrepareCallsOptions{})
		require.NoError(t, err)
		require.NotNil(t, prepared.Quote)
		assert.Equal(t, uint64(current.Unix()+30), prepared.Quote.TTL)

		_, err = h.svc.SendPreparedCalls(ctx, prepared, nil)
		require.NoError(t, err)

		_, err = h.svc.SendPreparedCalls(ctx, prepared, nil)
		var execErr *relay.ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, relay.AbiErrorInvalidNonce, execErr.AbiError)
	})

	t.Run("an elapsed quote is refused locally", func(t *testing.T) {
		prepared, err := h.svc.PrepareCalls(ctx, account, calls, PrepareCallsOptions{})
		require.NoError(t, err)
		before := len(h.relay.submitted)

		current = current.Add(time.Minute)
		_, err = h.svc.SendPreparedCalls(ctx, prepared, nil)
		assert.True(t, errors.Is(err, apperrors.ErrQuoteExpired))
		assert.Len(t, h.relay.submitted, before)

		fresh, err := h.svc.PrepareCalls(ctx, account, calls, PrepareCallsOptions{})
		require.NoError(t, err)
		_, err = h.svc.SendPreparedCalls(ctx, fresh, nil)
		assert.NoError(t, err)
	})

	t.Run("caller supplied signature", func(t *testing.T) {
		prepared, err := h.svc.PrepareCalls(ctx, account, calls, PrepareCallsOptions{})
		require.NoError(t, err)

		_, err = h.svc.SendPreparedCalls(ctx, prepared, []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01}, []byte(h.relay.lastSubmitted().Signature))
	})
}

func TestMerchantPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("routes through the merchant relay", func(t *testing.T) {
		merchant := newFakeRelay()
		var dialed string
		h := newHarness(t, WithMockMode(true), WithMerchantDialer(func(ctx context.Context, url string) (relay.Client, error) {
			dialed = url
			return merchant, nil
		}))
		account := h.createAccount(t, nil)
		before := len(h.relay.prepared)

		_, err := h.svc.PrepareCalls(ctx, account, []types.Call{{To: otherTarget}}, PrepareCallsOptions{
			MerchantRPCURL: "https://merchant.example/rpc",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://merchant.example/rpc", dialed)
		assert.Len(t, merchant.prepared, 1)
		assert.Len(t, h.relay.prepared, before)
	})

	t.Run("without a dialer", func(t *testing.T) {
		h := newHarness(t, WithMockMode(true))
		account := h.createAccount(t, nil)

		_, err := h.svc.PrepareCalls(ctx, account, nil, PrepareCallsOptions{MerchantRPCURL: "https://merchant.example/rpc"})
		assert.ErrorContains(t, err, "merchant RPC is not supported")
	})
}
