package custody

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenance/provenance-gateway/internal/address"
	"github.com/provenance/provenance-gateway/internal/protocol"
)

var wallet = address.MustParse("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")

func TestCreateWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, err := uuid.Parse(r.Header.Get("Idempotency-Key"))
		assert.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["userId"])
		_ = json.NewEncoder(w).Encode(map[string]string{"address": wallet.String()})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL+"/", "k", 0).CreateWallet(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, wallet, got)
}

func TestSignTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallets/"+wallet.String()+"/sign", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dW5zaWduZWQ=", body["transaction"])
		_ = json.NewEncoder(w).Encode(map[string]string{"signedTransaction": "c2lnbmVk"})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "", 0).SignTransaction(context.Background(), wallet, "dW5zaWduZWQ=")
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVk", got)
}

func TestUpstreamErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"wallet already exists for user"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 0).CreateWallet(context.Background(), "user-1")
	up, ok := protocol.AsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, up.StatusCode)
	assert.Equal(t, "wallet already exists for user", up.Message)
}

func TestCreateWalletRejectsMalformedAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"address": "xyz"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 0).CreateWallet(context.Background(), "user-1")
	_, ok := protocol.AsUpstream(err)
	assert.True(t, ok)
}
