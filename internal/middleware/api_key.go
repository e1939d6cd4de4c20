package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/better-wallet/smart-account/pkg/errors"
)

// APIKeyHeader carries the host API key when no bearer token is sent
const APIKeyHeader = "X-API-Key"

// APIKeyAuth admits requests whose API key matches a bcrypt hash
type APIKeyAuth struct {
	hash []byte
}

// NewAPIKeyAuth creates the middleware. An empty hash disables authentication.
func NewAPIKeyAuth(hash string) *APIKeyAuth {
	return &APIKeyAuth{hash: []byte(hash)}
}

// HashAPIKey produces the bcrypt hash to configure for key
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate rejects requests without a valid key. The key is accepted as
// "Authorization: Bearer <key>" or in X-API-Key.
func (a *APIKeyAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.hash) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			key = strings.TrimSpace(bearer)
		}
		if key == "" {
			writeError(w, apperrors.ErrUnauthorized.WithDetail("missing API key"))
			return
		}

		if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
			writeError(w, apperrors.ErrUnauthorized.WithDetail("invalid API key"))
			return
		}

		// keep the key out of downstream logs
		r.Header.Del(APIKeyHeader)
		r.Header.Del("Authorization")
		next.ServeHTTP(w, r)
	})
}
