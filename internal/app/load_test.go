package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/smart-account/internal/feetoken"
	"github.com/better-wallet/smart-account/internal/signer"
	"github.com/better-wallet/smart-account/internal/siwe"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

func knownAdmin() types.Key {
	pub := make([]byte, 64)
	pub[0] = 0x42
	key := types.NewWebAuthnP256Key(pub, "cred-known", "example.com")
	key.Role = types.RoleAdmin
	return key
}

func TestLoadAccounts_KnownKey(t *testing.T) {
	ctx := context.Background()
	address := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	t.Run("nothing to sign returns cached keys", func(t *testing.T) {
		h := newHarness(t)
		key := knownAdmin()

		resp, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{Address: &address, Key: &key})
		require.NoError(t, err)
		assert.Equal(t, address, resp.Account.Address)
		assert.Equal(t, []types.Key{key}, resp.Account.Keys)
		assert.Empty(t, resp.PreCalls)
		assert.Nil(t, resp.SIWE)

		assert.Zero(t, h.relay.rpcCount(), "no relay round trip")
		assert.Empty(t, h.auth.asserted, "no digest is signed")
		assert.Empty(t, h.auth.digests, "no discovery")

		pending, err := h.svc.PendingPreCalls(ctx, address)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("sign-in message is signed by the known key", func(t *testing.T) {
		h := newHarness(t)
		key := knownAdmin()

		resp, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{
			Address:            &address,
			Key:                &key,
			SignInWithEthereum: &siwe.Params{},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.SIWE)
		require.Len(t, h.auth.asserted, 1)

		digest := accounts.TextHash([]byte(resp.SIWE.Message))
		sig := resp.SIWE.Signature
		require.Len(t, sig, 1+32+32+1)
		assert.Equal(t, append([]byte{0xaa}, digest...), []byte(sig[:33]))
		assert.Equal(t, key.ID().Bytes(), []byte(sig[33:65]), "signature is wrapped with the key id")
	})

	t.Run("session key authorization is queued", func(t *testing.T) {
		h := newHarness(t)
		key := knownAdmin()

		resp, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{
			Address:     &address,
			Key:         &key,
			Permissions: sessionRequest(target),
		})
		require.NoError(t, err)
		require.Len(t, resp.Account.Keys, 2)
		assert.Equal(t, types.RoleSession, resp.Account.Keys[1].Role)
		require.Len(t, resp.PreCalls, 1)

		prepared := h.relay.lastPrepared()
		require.NotNil(t, prepared)
		assert.True(t, prepared.Capabilities.PreCall)
		assert.Empty(t, prepared.Calls)
		require.NotNil(t, prepared.From)
		assert.Equal(t, address, *prepared.From)
		require.Len(t, prepared.Capabilities.AuthorizeKeys, 1)
		require.NotNil(t, prepared.Capabilities.Meta.FeeToken)
		assert.Equal(t, expToken, *prepared.Capabilities.Meta.FeeToken)

		pending, err := h.svc.PendingPreCalls(ctx, address)
		require.NoError(t, err)
		assert.Equal(t, preCallIDs(t, resp.PreCalls), preCallIDs(t, pending))
	})
}

func TestLoadAccounts_MockSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithMockMode(true))
	session := NewSession()

	created, err := h.svc.CreateAccount(ctx, session, &CreateAccountRequest{})
	require.NoError(t, err)

	resp, err := h.svc.LoadAccounts(ctx, session, &LoadAccountsRequest{Permissions: sessionRequest(target)})
	require.NoError(t, err)
	assert.Equal(t, created.Account.Address, resp.Account.Address)
	require.Len(t, resp.Account.Keys, 2)
	require.Len(t, resp.PreCalls, 1)
	assert.Empty(t, h.auth.digests, "the remembered account skips discovery")

	_, err = h.svc.LoadAccounts(ctx, session, &LoadAccountsRequest{})
	assert.ErrorContains(t, err, "credential discovery failed", "the session is consumed")
}

func TestLoadAccounts_Discovery(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*harness, *types.Account, string) {
		h := newHarness(t)
		account := h.createAccount(t, &CreateAccountRequest{Label: "alice"})
		credentialID, ok := account.Keys[0].CredentialID()
		require.True(t, ok)
		h.auth.discovery = &signer.Assertion{Address: account.Address, CredentialID: credentialID}
		return h, account, credentialID
	}

	t.Run("session key authorization signed during discovery", func(t *testing.T) {
		h, account, credentialID := setup(t)

		resp, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{Permissions: sessionRequest(target)})
		require.NoError(t, err)
		assert.Equal(t, account.Address, resp.Account.Address)

		require.Len(t, resp.Account.Keys, 2)
		admin := resp.Account.Keys[0]
		assert.Equal(t, types.RoleAdmin, admin.Role)
		id, ok := admin.CredentialID()
		assert.True(t, ok)
		assert.Equal(t, credentialID, id)
		assert.Equal(t, types.RoleSession, resp.Account.Keys[1].Role)

		prepared := h.relay.lastPrepared()
		assert.True(t, prepared.Capabilities.PreCall)
		assert.Nil(t, prepared.From, "the account is unknown before discovery")

		require.Len(t, h.auth.digests, 1)
		assert.NotEmpty(t, h.auth.digests[0])
		assert.Empty(t, h.auth.asserted)

		require.Len(t, resp.PreCalls, 1)
		sig := resp.PreCalls[0].Signature
		assert.Equal(t, byte(0xbb), sig[0])
		assert.Equal(t, admin.ID().Bytes(), []byte(sig[len(sig)-33:len(sig)-1]))

		t.Run("next bundle executes the queued authorization", func(t *testing.T) {
			calls := []types.Call{{To: otherTarget}}
			sent, err := h.svc.SendCalls(ctx, &resp.Account, calls, SendCallsOptions{})
			require.NoError(t, err)
			require.NotNil(t, sent.Status)
			assert.True(t, sent.Status.Confirmed())

			sub := h.relay.lastSubmitted()
			assert.Equal(t, calls, sub.Intent.Calls)
			assert.Equal(t, preCallIDs(t, resp.PreCalls), preCallIDs(t, sub.Intent.Capabilities.PreCalls))
			assert.Len(t, h.relay.keysOf(account.Address), 2)

			pending, err := h.svc.PendingPreCalls(ctx, account.Address)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	})

	t.Run("empty digest then fresh sign-in", func(t *testing.T) {
		h, account, _ := setup(t)

		resp, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{SignInWithEthereum: &siwe.Params{}})
		require.NoError(t, err)
		require.Len(t, h.auth.digests, 1)
		assert.Empty(t, h.auth.digests[0])

		require.NotNil(t, resp.SIWE)
		assert.Contains(t, resp.SIWE.Message, account.Address.Hex())
		require.Len(t, h.auth.asserted, 1, "the admin credential signs the message")
		assert.Empty(t, resp.PreCalls)
	})

	t.Run("known address signs sign-in during discovery", func(t *testing.T) {
		h, account, _ := setup(t)

		resp, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{
			Address:            &account.Address,
			SignInWithEthereum: &siwe.Params{},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.SIWE)

		digest := accounts.TextHash([]byte(resp.SIWE.Message))
		require.Len(t, h.auth.digests, 1)
		assert.Equal(t, digest, h.auth.digests[0])
		assert.Empty(t, h.auth.asserted, "the discovery assertion is reused")
		assert.Equal(t, byte(0xbb), resp.SIWE.Signature[0])
	})

	t.Run("no keys on chain", func(t *testing.T) {
		h := newHarness(t)
		h.auth.discovery = &signer.Assertion{Address: common.HexToAddress("0x00000000000000000000000000000000000000d1")}

		_, err := h.svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{})
		assert.True(t, errors.Is(err, apperrors.ErrAccountNotFound))
	})

	t.Run("no authenticator", func(t *testing.T) {
		h := newHarness(t)
		svc := NewAccountService(h.relay, signer.NewRouter(h.keys, nil), h.ledger, feetoken.NewResolver(h.relay), h.keys,
			WithChainID(testChainID))

		_, err := svc.LoadAccounts(ctx, nil, &LoadAccountsRequest{})
		assert.ErrorContains(t, err, "no authenticator")
	})
}
