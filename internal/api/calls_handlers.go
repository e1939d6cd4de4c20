package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/better-wallet/smart-account/internal/app"
	"github.com/better-wallet/smart-account/internal/validation"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
	"github.com/better-wallet/smart-account/pkg/types"
)

type prepareCallsBody struct {
	Calls         []types.Call    `json:"calls"`
	FeeToken      string          `json:"feeToken,omitempty"`
	PermissionsID *common.Hash    `json:"permissionsId,omitempty"`
	PreCalls      []types.PreCall `json:"preCalls,omitempty"`
	AuthorizeKeys []types.Key     `json:"authorizeKeys,omitempty"`
	RevokeKeys    []common.Hash   `json:"revokeKeys,omitempty"`
	// Sponsored routes preparation through the configured merchant relay
	Sponsored bool `json:"sponsored,omitempty"`
}

type sendCallsBody struct {
	Calls          []types.Call    `json:"calls"`
	FeeToken       string          `json:"feeToken,omitempty"`
	PermissionsID  *common.Hash    `json:"permissionsId,omitempty"`
	PreCalls       []types.PreCall `json:"preCalls,omitempty"`
	WaitForReceipt bool            `json:"waitForReceipt,omitempty"`
}

type signPersonalBody struct {
	Message string        `json:"message,omitempty"`
	Data    hexutil.Bytes `json:"data,omitempty"`
}

type signatureResponse struct {
	Signature hexutil.Bytes `json:"signature"`
}

type preCallsResponse struct {
	PreCalls []types.PreCall `json:"preCalls"`
}

// handlePrepareCalls returns the intent digest and quote for calls without sending them
func (s *Server) handlePrepareCalls(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var body prepareCallsBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validation.ValidateCalls(body.Calls, true, nil); err != nil {
		writeError(w, r, apperrors.ErrBadRequest.WithDetail(err.Error()))
		return
	}

	opts := app.PrepareCallsOptions{
		FeeToken:      body.FeeToken,
		PreCalls:      body.PreCalls,
		PermissionsID: body.PermissionsID,
		AuthorizeKeys: publicKeys(body.AuthorizeKeys),
		RevokeKeys:    body.RevokeKeys,
	}
	if body.Sponsored {
		if s.config.MerchantRPCURL == "" {
			writeError(w, r, apperrors.ErrBadRequest.WithDetail("no merchant relay configured"))
			return
		}
		opts.MerchantRPCURL = s.config.MerchantRPCURL
	}

	prepared, err := s.service.PrepareCalls(r.Context(), account, body.Calls, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := *prepared
	out.Key = prepared.Key.WithoutMaterial()
	writeJSON(w, http.StatusOK, out)
}

// handleSendCalls signs and submits calls with the best matching key
func (s *Server) handleSendCalls(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var body sendCallsBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validation.ValidateCalls(body.Calls, false, nil); err != nil {
		writeError(w, r, apperrors.ErrBadRequest.WithDetail(err.Error()))
		return
	}

	resp, err := s.service.SendCalls(r.Context(), account, body.Calls, app.SendCallsOptions{
		FeeToken:       body.FeeToken,
		PermissionsID:  body.PermissionsID,
		PreCalls:       body.PreCalls,
		WaitForReceipt: body.WaitForReceipt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSignPersonal signs an EIP-191 message. Exactly one of message and data is set.
func (s *Server) handleSignPersonal(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var body signPersonalBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	message := body.Data
	switch {
	case body.Message != "" && len(body.Data) > 0:
		writeError(w, r, apperrors.ErrBadRequest.WithDetail("set either message or data"))
		return
	case body.Message != "":
		message = []byte(body.Message)
	case len(body.Data) == 0:
		writeError(w, r, apperrors.ErrBadRequest.WithDetail("message is required"))
		return
	}

	sig, err := s.service.SignPersonalMessage(r.Context(), account, message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signatureResponse{Signature: sig})
}

// handleSignTypedData signs EIP-712 typed data
func (s *Server) handleSignTypedData(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	var typedData apitypes.TypedData
	if err := decodeJSON(r, &typedData); err != nil {
		writeError(w, r, err)
		return
	}
	if typedData.PrimaryType == "" {
		writeError(w, r, apperrors.ErrBadRequest.WithDetail("primaryType is required"))
		return
	}

	sig, err := s.service.SignTypedData(r.Context(), account, typedData)
	if err != nil {
		if _, ok := apperrors.IsAppError(err); !ok {
			err = apperrors.ErrBadRequest.WithDetail(err.Error())
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signatureResponse{Signature: sig})
}

// handleGetPreCalls lists the account's pending pre-calls
func (s *Server) handleGetPreCalls(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	preCalls, err := s.service.PendingPreCalls(r.Context(), account.Address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if preCalls == nil {
		preCalls = []types.PreCall{}
	}
	writeJSON(w, http.StatusOK, preCallsResponse{PreCalls: preCalls})
}

// handleClearPreCalls drops the account's pending pre-calls
func (s *Server) handleClearPreCalls(w http.ResponseWriter, r *http.Request) {
	r, account, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	if err := s.service.ClearPreCalls(r.Context(), account.Address); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
