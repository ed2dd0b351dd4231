package kvutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sttest "github.com/arloliu/sharedtrain/testing"
)

func TestEnsureBucket_ConcurrentNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}

	_, nc := sttest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	cfg := jetstream.KeyValueConfig{Bucket: "unit-shared", TTL: 5 * time.Second, Storage: jetstream.MemoryStorage}

	const nodes = 8
	var wg sync.WaitGroup
	kvs := make([]jetstream.KeyValue, nodes)
	for i := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()

			kv, err := EnsureBucket(t.Context(), js, cfg, 3)
			assert.NoError(t, err)
			kvs[i] = kv
		}()
	}
	wg.Wait()

	// every node sees the same bucket
	_, err = kvs[0].Put(t.Context(), "marker", []byte("v"))
	require.NoError(t, err)
	for _, kv := range kvs {
		require.NotNil(t, kv)
		entry, err := kv.Get(t.Context(), "marker")
		require.NoError(t, err)
		require.Equal(t, "v", string(entry.Value()))
	}
}

func TestEnsureBucket_CancelledContext(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}

	_, nc := sttest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = EnsureBucket(ctx, js, jetstream.KeyValueConfig{Bucket: "unit-cancel"}, 2)
	require.ErrorIs(t, err, context.Canceled)
}
