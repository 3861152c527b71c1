package relayserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pubky/pubky-core-client/pkg/dht"
	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

func signed(t *testing.T, kp *keys.Keypair, at time.Time) *record.SignedRecord {
	t.Helper()
	r, err := record.NewBuilder().CNAME(record.Apex, 30, "example.com").Sign(kp, at)
	require.NoError(t, err)
	return r
}

func start(t *testing.T) (*dht.MemoryStore, *dht.Relay) {
	t.Helper()
	store := dht.NewMemoryStore()
	srv := httptest.NewServer(New(store, zaptest.NewLogger(t), 300))
	t.Cleanup(srv.Close)
	relay, err := dht.NewRelay(srv.URL, srv.Client())
	require.NoError(t, err)
	return store, relay
}

func TestHandler_RoundTripThroughRelayClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, relay := start(t)
	kp, err := keys.Random()
	require.NoError(t, err)

	_, err = relay.Get(ctx, kp.Public())
	require.ErrorIs(t, err, errs.ErrEntryNotFound)

	now := time.Now()
	rec := signed(t, kp, now)
	require.NoError(t, relay.Put(ctx, rec))
	require.Equal(t, 1, store.Len())

	got, err := relay.Get(ctx, kp.Public())
	require.NoError(t, err)
	require.Equal(t, rec.Timestamp, got.Timestamp)
	require.Equal(t, rec.Packet, got.Packet)

	err = relay.Put(ctx, signed(t, kp, now.Add(-time.Minute)))
	require.ErrorIs(t, err, errs.ErrEntryNotPublished)
	require.Contains(t, err.Error(), "409")
}

func TestHandler_Rejects(t *testing.T) {
	t.Parallel()

	store := dht.NewMemoryStore()
	srv := httptest.NewServer(New(store, nil, 0))
	t.Cleanup(srv.Close)

	kp, err := keys.Random()
	require.NoError(t, err)
	other, err := keys.Random()
	require.NoError(t, err)
	payload := signed(t, kp, time.Now()).RelayPayload()

	put := func(key string, body []byte) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/"+key, bytes.NewReader(body))
		require.NoError(t, err)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusBadRequest, put("not-a-key", payload))
	require.Equal(t, http.StatusBadRequest, put(other.UserID(), payload), "signed by another key")
	require.Equal(t, http.StatusBadRequest, put(kp.UserID(), payload[:10]))
	require.Equal(t, http.StatusRequestEntityTooLarge, put(kp.UserID(), make([]byte, maxPayload+1)))
	require.Equal(t, 0, store.Len())

	require.Equal(t, http.StatusNoContent, put(kp.UserID(), payload))

	resp, err := srv.Client().Get(srv.URL + "/" + kp.UserID())
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, ContentType, resp.Header.Get("Content-Type"))
	require.Empty(t, resp.Header.Get("Cache-Control"))
}
