package stableid

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	sttest "github.com/arloliu/sharedtrain/testing"
)

func newKV(t *testing.T, bucket string, ttl time.Duration) jetstream.KeyValue {
	t.Helper()

	_, nc := sttest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{Bucket: bucket, TTL: ttl, Storage: jetstream.MemoryStorage})
	require.NoError(t, err)

	return kv
}

func TestClaimer_WithoutClaim(t *testing.T) {
	t.Parallel()

	c := NewClaimer(nil, "node", 0, 9, 0, nil)
	require.ErrorIs(t, c.StartRenewal(), ErrNotClaimed)
	require.ErrorIs(t, c.Release(context.Background()), ErrNotClaimed)
	require.Empty(t, c.NodeID())
}

func TestClaimer_ClaimsSequentially(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	t.Parallel()

	kv := newKV(t, "unit-nodeid-seq", time.Minute)

	first := NewClaimer(kv, "node", 0, 1, time.Minute, nil)
	second := NewClaimer(kv, "node", 0, 1, time.Minute, nil)
	third := NewClaimer(kv, "node", 0, 1, time.Minute, nil)

	id, err := first.Claim(t.Context())
	require.NoError(t, err)
	require.Equal(t, "node-0", id)

	id, err = second.Claim(t.Context())
	require.NoError(t, err)
	require.Equal(t, "node-1", id)

	_, err = third.Claim(t.Context())
	require.ErrorIs(t, err, ErrNoAvailableID)

	// releasing frees the ID for the next claimer
	require.NoError(t, first.Release(t.Context()))
	id, err = third.Claim(t.Context())
	require.NoError(t, err)
	require.Equal(t, "node-0", id)
}

func TestClaimer_ReleaseWithoutRenewal(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	t.Parallel()

	kv := newKV(t, "unit-nodeid-norenew", time.Minute)
	c := NewClaimer(kv, "node", 0, 0, time.Minute, nil)
	_, err := c.Claim(t.Context())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, c.Release(t.Context()))
	require.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, c.Release(t.Context()), ErrNotClaimed)
}

func TestClaimer_RenewalKeepsClaim(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	t.Parallel()

	ttl := 600 * time.Millisecond
	kv := newKV(t, "unit-nodeid-renew", ttl)
	c := NewClaimer(kv, "node", 0, 0, ttl, nil)
	_, err := c.Claim(t.Context())
	require.NoError(t, err)
	require.NoError(t, c.StartRenewal())
	require.NoError(t, c.StartRenewal(), "second start is a no-op")

	time.Sleep(3 * ttl)

	other := NewClaimer(kv, "node", 0, 0, ttl, nil)
	_, err = other.Claim(t.Context())
	require.ErrorIs(t, err, ErrNoAvailableID)

	require.NoError(t, c.Release(t.Context()))
}

func TestClaimer_Close(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	t.Parallel()

	kv := newKV(t, "unit-nodeid-close", time.Minute)
	c := NewClaimer(kv, "node", 0, 0, time.Minute, nil)
	_, err := c.Claim(t.Context())
	require.NoError(t, err)

	c.Close()
	require.ErrorIs(t, c.StartRenewal(), ErrAlreadyClosed)
	_, err = c.Claim(t.Context())
	require.ErrorIs(t, err, ErrAlreadyClosed)
}
