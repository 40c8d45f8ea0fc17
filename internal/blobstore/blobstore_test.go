package blobstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenance/provenance-gateway/internal/protocol"
)

func TestComputeCIDIsDeterministic(t *testing.T) {
	doc := []byte(`{"contentHash":"00"}`)
	a, err := ComputeCID(doc)
	require.NoError(t, err)
	b, err := ComputeCID(doc)
	require.NoError(t, err)
	assert.True(t, a.Equals(b))
	assert.Equal(t, uint64(multicodec.DagJson), a.Prefix().Codec)

	other, err := ComputeCID([]byte(`{"contentHash":"01"}`))
	require.NoError(t, err)
	assert.False(t, a.Equals(other))
}

func TestLocalUploadAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewLocal()
	doc := []byte(`{"title":"song"}`)

	c, err := store.Upload(ctx, "song", doc)
	require.NoError(t, err)
	_, err = cid.Decode(c)
	require.NoError(t, err)

	got, err := store.get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	missing, err := ComputeCID([]byte("nope"))
	require.NoError(t, err)
	_, err = store.get(ctx, missing.String())
	assert.ErrorIs(t, err, datastore.ErrNotFound)

	_, err = store.get(ctx, "not-a-cid")
	assert.ErrorIs(t, err, ErrInvalidCID)
}

func TestPinningUpload(t *testing.T) {
	want, err := ComputeCID([]byte(`{"a":1}`))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			Content  map[string]any    `json:"pinataContent"`
			Metadata map[string]string `json:"pinataMetadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "meta.json", body.Metadata["name"])
		assert.EqualValues(t, 1, body.Content["a"])
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": want.String()})
	}))
	defer srv.Close()

	got, err := NewPinning(srv.URL, "secret", 0).Upload(context.Background(), "meta.json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, want.String(), got)
}

func TestPinningUploadPassesUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewPinning(srv.URL, "", 0).Upload(context.Background(), "m", []byte(`{}`))
	up, ok := protocol.AsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, up.StatusCode)
}

func TestPinningUploadRejectsBogusCID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "definitely-not-a-cid"})
	}))
	defer srv.Close()

	_, err := NewPinning(srv.URL, "", 0).Upload(context.Background(), "m", []byte(`{}`))
	_, ok := protocol.AsUpstream(err)
	assert.True(t, ok)
}
