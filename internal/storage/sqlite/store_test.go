package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenance/provenance-gateway/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newToken(hash string, now time.Time, ttl time.Duration) storage.ActionToken {
	return storage.ActionToken{
		ID:                  uuid.NewString(),
		TokenHash:           hash,
		UnsignedTransaction: "AQID",
		CreatorAddress:      "creator",
		ContentHash:         "00",
		ContentTitle:        "title",
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.CreateActionToken(ctx, newToken("h1", now, time.Hour)))
	tok, ok, err := s.GetActionToken(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, storage.TokenUnused, tok.Status)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
	assert.Nil(t, tok.ConsumedAt)

	_, ok, err = s.GetActionToken(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.CreateActionToken(ctx, newToken("h1", now, time.Hour))
	assert.ErrorIs(t, err, storage.ErrTokenExists)
}

func TestRedeemIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateActionToken(ctx, newToken("h", now, time.Hour)))

	tok, err := s.RedeemActionToken(ctx, "h", now)
	require.NoError(t, err)
	assert.Equal(t, storage.TokenConsumed, tok.Status)
	require.NotNil(t, tok.ConsumedAt)
	assert.Equal(t, "AQID", tok.UnsignedTransaction)

	_, err = s.RedeemActionToken(ctx, "h", now)
	assert.ErrorIs(t, err, storage.ErrTokenConsumed)

	_, err = s.RedeemActionToken(ctx, "unknown", now)
	assert.ErrorIs(t, err, storage.ErrTokenMissing)
}

func TestRedeemRejectsExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	issued := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.CreateActionToken(ctx, newToken("old", issued, 24*time.Hour)))

	_, err := s.RedeemActionToken(ctx, "old", time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrTokenExpired)

	tok, ok, err := s.GetActionToken(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, storage.TokenUnused, tok.Status)
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateActionToken(ctx, newToken("race", now, time.Hour)))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RedeemActionToken(ctx, "race", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrTokenConsumed):
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestExpireActionTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateActionToken(ctx, newToken("stale", now.Add(-2*time.Hour), time.Hour)))
	require.NoError(t, s.CreateActionToken(ctx, newToken("fresh", now, time.Hour)))

	n, err := s.ExpireActionTokens(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, _, err := s.GetActionToken(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, storage.TokenExpired, stale.Status)

	_, err = s.RedeemActionToken(ctx, "stale", now.Add(-90*time.Minute))
	assert.ErrorIs(t, err, storage.ErrTokenExpired)
}
