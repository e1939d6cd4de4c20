package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/internal/app"
	"github.com/better-wallet/smart-account/internal/logger"
	"github.com/better-wallet/smart-account/internal/permissions"
	"github.com/better-wallet/smart-account/internal/siwe"
	"github.com/better-wallet/smart-account/internal/validation"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

type createAccountBody struct {
	Label              string               `json:"label,omitempty"`
	Email              string               `json:"email,omitempty"`
	Admins             []types.Key          `json:"admins,omitempty"`
	Permissions        *permissions.Request `json:"permissions,omitempty"`
	FeeToken           string               `json:"feeToken,omitempty"`
	SignInWithEthereum *siwe.Params         `json:"signInWithEthereum,omitempty"`
}

type accountResponse struct {
	Account types.Account `json:"account"`
	SIWE    *siwe.Signed  `json:"siwe,omitempty"`
}

type grantPermissionsBody struct {
	permissions.Request
	FeeToken string `json:"feeToken,omitempty"`
}

type grantAdminBody struct {
	Key      types.Key `json:"key"`
	FeeToken string    `json:"feeToken,omitempty"`
}

type keyResponse struct {
	Key      types.Key       `json:"key"`
	PreCalls []types.PreCall `json:"preCalls,omitempty"`
	Account  types.Account   `json:"account"`
}

// handleCreateAccount creates and upgrades a new account. The stored copy keeps local key
// material; the response never does.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := s.service.CreateAccount(r.Context(), nil, &app.CreateAccountRequest{
		Admins:             publicKeys(body.Admins),
		Email:              body.Email,
		Label:              body.Label,
		Permissions:        body.Permissions,
		FeeToken:           body.FeeToken,
		SignInWithEthereum: body.SignInWithEthereum,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := logger.WithAccount(r.Context(), resp.Account.Address.Hex())
	if err := s.accounts.Save(ctx, &resp.Account); err != nil {
		logger.Error(ctx, "created account could not be stored", "error", err)
		writeError(w, r, err)
		return
	}
	logger.Info(ctx, "account created", "keys", len(resp.Account.Keys))

	writeJSON(w, http.StatusCreated, accountResponse{Account: resp.Account.Public(), SIWE: resp.SIWE})
}

// handleListAccounts lists hosted accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]types.Account, len(accounts))
	for i, account := range accounts {
		out[i] = account.Public()
	}
	writeJSON(w, http.StatusOK, map[string][]types.Account{"accounts": out})
}

// handleForgetAccount stops hosting an account: its stored keys and pending pre-calls are
// dropped. Nothing changes on chain.
func (s *Server) handleForgetAccount(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	if err := s.accounts.Delete(r.Context(), account.Address); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.service.ClearPreCalls(r.Context(), account.Address); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info(r.Context(), "account forgotten")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetAccount returns a hosted account. With ?siwe=true the admin key also signs a
// sign-in message, without a relay round trip.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("siwe") != "true" {
		writeJSON(w, http.StatusOK, accountResponse{Account: account.Public()})
		return
	}

	admin, ok := localAdmin(account)
	if !ok {
		writeError(w, r, apperrors.ErrNoAdminKey)
		return
	}

	resp, err := s.service.LoadAccounts(r.Context(), nil, &app.LoadAccountsRequest{
		Address: &account.Address,
		Key:     &admin,
		SignInWithEthereum: &siwe.Params{
			Statement: r.URL.Query().Get("statement"),
			Nonce:     r.URL.Query().Get("nonce"),
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: account.Public(), SIWE: resp.SIWE})
}

// handleGrantPermissions queues a session key authorization
func (s *Server) handleGrantPermissions(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var body grantPermissionsBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := s.service.GrantPermissions(r.Context(), account, &body.Request, body.FeeToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.saveAccount(w, r, &resp.Account) {
		return
	}

	writeJSON(w, http.StatusCreated, keyResponse{
		Key:      resp.Key.WithoutMaterial(),
		PreCalls: resp.PreCalls,
		Account:  resp.Account.Public(),
	})
}

// handleRevokePermissions revokes a session key
func (s *Server) handleRevokePermissions(w http.ResponseWriter, r *http.Request) {
	s.revoke(w, r, s.service.RevokePermissions)
}

// handleGrantAdmin authorizes an externally held admin key
func (s *Server) handleGrantAdmin(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var body grantAdminBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Key.IsZero() {
		writeError(w, r, apperrors.ErrBadRequest.WithDetail("key is required"))
		return
	}

	key, err := s.service.GrantAdmin(r.Context(), account, body.Key.WithoutMaterial(), body.FeeToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated := account.WithKey(*key)
	if !s.saveAccount(w, r, &updated) {
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{Key: key.WithoutMaterial(), Account: updated.Public()})
}

// handleRevokeAdmin revokes an admin key
func (s *Server) handleRevokeAdmin(w http.ResponseWriter, r *http.Request) {
	s.revoke(w, r, s.service.RevokeAdmin)
}

type revokeFunc func(ctx context.Context, account *types.Account, keyID common.Hash, feeToken string) (*types.Account, error)

func (s *Server) revoke(w http.ResponseWriter, r *http.Request, fn revokeFunc) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	keyID, err := validation.ParseKeyID(r.PathValue("keyId"))
	if err != nil {
		writeError(w, r, apperrors.ErrBadRequest.WithDetail(err.Error()))
		return
	}

	updated, err := fn(r.Context(), account, keyID, r.URL.Query().Get("feeToken"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !s.saveAccount(w, r, updated) {
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: updated.Public()})
}

// handleUpdateAccount points the account proxy at the latest implementation
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	resp, err := s.service.UpdateAccount(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadAccount resolves the {address} path value to a stored account and tags the request
// context with it. The error response is written when it cannot.
func (s *Server) loadAccount(w http.ResponseWriter, r *http.Request) (*http.Request, *types.Account, bool) {
	address, err := validation.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, r, apperrors.ErrBadRequest.WithDetail(err.Error()))
		return r, nil, false
	}

	account, err := s.accounts.Get(r.Context(), address)
	if err != nil {
		writeError(w, r, err)
		return r, nil, false
	}
	if account == nil {
		writeError(w, r, apperrors.ErrAccountNotFound)
		return r, nil, false
	}

	return r.WithContext(logger.WithAccount(r.Context(), address.Hex())), account, true
}

func (s *Server) saveAccount(w http.ResponseWriter, r *http.Request, account *types.Account) bool {
	if err := s.accounts.Save(r.Context(), account); err != nil {
		logger.Error(r.Context(), "account could not be stored", "error", err)
		writeError(w, r, err)
		return false
	}
	return true
}

// publicKeys strips local material from keys decoded off a request; only keys the service
// generated may carry it.
func publicKeys(keys []types.Key) []types.Key {
	if keys == nil {
		return nil
	}
	out := make([]types.Key, len(keys))
	for i, k := range keys {
		out[i] = k.WithoutMaterial()
	}
	return out
}

func localAdmin(account *types.Account) (types.Key, bool) {
	for _, k := range account.Keys {
		if k.IsAdmin() && k.HasLocalMaterial() {
			return k, true
		}
	}
	return types.Key{}, false
}
