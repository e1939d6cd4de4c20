package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/better-wallet/smart-account/internal/logger"
	"github.com/better-wallet/smart-account/internal/relay"
	apperrors "github.com/better-wallet/smart-account/pkg/errors"
)

type errorResponse struct {
	Error *apperrors.AppError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err onto an AppError response. Relay execution errors keep the
// decoded contract error in Detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		var execErr *relay.ExecutionError
		switch {
		case errors.As(err, &execErr):
			detail := execErr.Message
			if execErr.AbiError != "" {
				detail = execErr.AbiError
			}
			appErr = apperrors.RelayError(detail)
			appErr.StatusCode = http.StatusUnprocessableEntity
		default:
			logger.Error(r.Context(), "request failed", "error", err)
			appErr = apperrors.ErrInternalError
		}
	}
	writeJSON(w, appErr.StatusCode, errorResponse{Error: appErr})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.New(apperrors.ErrCodeBadRequest, "Request body too large", http.StatusRequestEntityTooLarge)
		}
		return apperrors.ErrBadRequest.WithDetail(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
