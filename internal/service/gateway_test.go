package service

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenance/provenance-gateway/internal/ledger"
	"github.com/provenance/provenance-gateway/internal/protocol"
	"github.com/provenance/provenance-gateway/internal/storage"
	"github.com/provenance/provenance-gateway/internal/storage/sqlite"
)

func TestGuardCachesOnlyExistence(t *testing.T) {
	fake := newFakeLedger()
	present := addressOf(testKey(20))
	absent := addressOf(testKey(21))
	fake.put(present, []byte{1})

	guard, err := NewGuard(fake, 8)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := guard.Exists(ctx, present)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, fake.gets)

	for i := 0; i < 3; i++ {
		ok, err := guard.Exists(ctx, absent)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 4, fake.gets)
}

func TestGuardSurfacesLedgerErrors(t *testing.T) {
	fake := newFakeLedger()
	fake.getErr = &protocol.UpstreamError{Service: "ledger", StatusCode: http.StatusBadGateway, Message: "bad gateway"}
	guard, err := NewGuard(fake, 0)
	require.NoError(t, err)

	ok, err := guard.Exists(context.Background(), addressOf(testKey(20)))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestValidatorData(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.ValidatorData(context.Background(), protocol.ValidatorDataRequest{WalletAddress: h.creatorAddr().String()})
	requireAppError(t, err, http.StatusConflict, "VALIDATOR_NOT_INITIALIZED")

	key, err := h.programs.ValidatorAddress(h.creatorAddr())
	require.NoError(t, err)
	h.ledger.put(key, ledger.EncodeValidator(ledger.Validator{
		Address:      h.creatorAddr(),
		StakedAmount: 1_000,
		TotalVotes:   4,
		HonestVotes:  3,
	}))
	resp, err := h.gw.ValidatorData(context.Background(), protocol.ValidatorDataRequest{WalletAddress: h.creatorAddr().String()})
	require.NoError(t, err)
	assert.Equal(t, key.String(), resp.ValidatorAddress)
	assert.Equal(t, uint64(1_000), resp.StakedAmount)
	require.NotNil(t, resp.Accuracy)
	assert.InDelta(t, 0.75, *resp.Accuracy, 1e-9)

	_, err = h.gw.ValidatorData(context.Background(), protocol.ValidatorDataRequest{})
	requireAppError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestHealthReportsDatastore(t *testing.T) {
	h := newHarness(t)
	resp, err := h.gw.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Datastore)
	assert.Equal(t, "ok", resp.Ledger)
	assert.Equal(t, "provenance-gateway", resp.Service)
}

func TestHealthReportsLedgerOutage(t *testing.T) {
	h := newHarness(t)
	h.ledger.healthErr = errors.New("node is behind")
	resp, err := h.gw.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Datastore)
	assert.Equal(t, "unavailable", resp.Ledger)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}

func TestTokenSweeper(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateActionToken(ctx, storage.ActionToken{
		ID:        "a",
		TokenHash: "stale",
		Status:    storage.TokenUnused,
		CreatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-24 * time.Hour),
	}))
	require.NoError(t, store.CreateActionToken(ctx, storage.ActionToken{
		ID:        "b",
		TokenHash: "fresh",
		Status:    storage.TokenUnused,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	sweeper := NewTokenSweeper(store, nil)
	sweeper.now = func() time.Time { return now }
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tok, ok, err := store.GetActionToken(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, storage.TokenExpired, tok.Status)
}
