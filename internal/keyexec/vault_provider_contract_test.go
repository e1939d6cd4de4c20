package keyexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/smart-account/internal/crypto"
)

type transitBody struct {
	Plaintext      string `json:"plaintext"`
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
}

// fakeTransit mimics the transit engine closely enough for the provider: the
// ciphertext carries the associated data and decrypt refuses a mismatch.
type fakeTransit struct {
	keys map[string]bool
	seen []string
}

func newFakeTransit(t *testing.T, keys ...string) (*fakeTransit, *httptest.Server) {
	t.Helper()

	ft := &fakeTransit{keys: map[string]bool{}}
	for _, k := range keys {
		ft.keys[k] = true
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Vault-Token"))

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/transit/"), "/")
		if len(parts) != 2 || !ft.keys[parts[1]] {
			http.NotFound(w, r)
			return
		}
		ft.seen = append(ft.seen, parts[0])

		var body transitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var data map[string]interface{}
		switch parts[0] {
		case "encrypt":
			data = map[string]interface{}{"ciphertext": "vault:v1:" + body.AssociatedData + ":" + body.Plaintext}
		case "decrypt":
			ad, plaintext, ok := strings.Cut(strings.TrimPrefix(body.Ciphertext, "vault:v1:"), ":")
			if !ok || ad != body.AssociatedData {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":["cipher: message authentication failed"]}`))
				return
			}
			data = map[string]interface{}{"plaintext": plaintext}
		default:
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"request_id": parts[0], "data": data})
	}))
	t.Cleanup(srv.Close)
	return ft, srv
}

func TestVaultProvider_RoundTrip(t *testing.T) {
	_, srv := newFakeTransit(t, "account-shares")

	provider, err := NewVaultProvider(srv.URL, "token", "account-shares")
	require.NoError(t, err)
	assert.Equal(t, "vault", provider.Name())

	ctx := context.Background()
	ciphertext, err := provider.Encrypt(ctx, ShareExec, []byte("exec-share"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(ciphertext), "vault:v1:"))

	plaintext, err := provider.Decrypt(ctx, ShareExec, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("exec-share"), plaintext)

	_, err = provider.Decrypt(ctx, ShareAuth, ciphertext)
	assert.ErrorContains(t, err, "vault transit decrypt failed")
}

func TestVaultProvider_BacksExecutor(t *testing.T) {
	ft, srv := newFakeTransit(t, "account-shares")

	executor, err := NewKMSExecutor(&KMSConfig{
		Provider:        "vault",
		VaultAddress:    srv.URL,
		VaultToken:      "token",
		VaultTransitKey: "account-shares",
	})
	require.NoError(t, err)
	require.Equal(t, "vault", executor.Provider())

	ctx := context.Background()
	key, err := executor.GenerateKey(ctx, crypto.CurveSecp256k1)
	require.NoError(t, err)

	sig, err := executor.SignDigest(ctx, key.Material, make([]byte, 32), false)
	require.NoError(t, err)
	assert.Len(t, sig, 65)
	assert.Equal(t, []string{"encrypt", "encrypt", "decrypt", "decrypt"}, ft.seen)
}

func TestVaultProvider_Errors(t *testing.T) {
	_, srv := newFakeTransit(t, "account-shares")
	ctx := context.Background()

	t.Run("unknown transit key", func(t *testing.T) {
		provider, err := NewVaultProvider(srv.URL, "token", "missing")
		require.NoError(t, err)

		_, err = provider.Encrypt(ctx, ShareAuth, []byte("data"))
		assert.ErrorContains(t, err, "vault transit encrypt")
	})

	t.Run("server error", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"errors":["boom"]}`))
		}))
		defer broken.Close()

		provider, err := NewVaultProvider(broken.URL, "token", "account-shares")
		require.NoError(t, err)

		_, err = provider.Decrypt(ctx, ShareAuth, []byte("vault:v1:abcd"))
		assert.ErrorContains(t, err, "vault transit decrypt failed")
	})
}
