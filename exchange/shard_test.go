package exchange

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sttest "github.com/arloliu/sharedtrain/testing"
	"github.com/arloliu/sharedtrain/types"
)

func TestNewShard_Validation(t *testing.T) {
	_, err := NewShard(nil, DefaultConfig(), 0)
	require.ErrorIs(t, err, types.ErrNATSConnectionRequired)

	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	_, nc := sttest.StartEmbeddedNATS(t)
	_, err = NewShard(nc, DefaultConfig(), 1)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestShard_RejectsForeignNode(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	_, nc := sttest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	cfg.Shards = 2
	shards := startShards(t, nc, cfg)

	ring := NewShardRing(cfg.Shards)
	nodeID := "node-42"
	foreign := 1 - ring.OwnerIndex(nodeID)

	payload, err := json.Marshal(types.IntroductionMessage{NodeID: nodeID, Address: "h", Port: 1})
	require.NoError(t, err)
	reply, err := nc.Request(shardIntroSubject(cfg.SubjectPrefix, foreign), payload, time.Second)
	require.NoError(t, err)

	var ack introAck
	require.NoError(t, json.Unmarshal(reply.Data, &ack))
	require.False(t, ack.Accepted)
	require.Empty(t, shards[foreign].Members())
}

func TestShard_DropsMembersWithoutHeartbeat(t *testing.T) {
	if testing.Short() {
		t.Skip("requires embedded NATS")
	}
	_, nc := sttest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	client := newTestClient(t, nc, cfg)
	require.NoError(t, client.Initialize(t.Context(), ResolveTransport(nc, cfg), &recordingHandler{}))

	hbKV := sttest.CreateJetStreamKV(t, nc, "unit-shard-hb")
	shard, err := NewShard(nc, cfg, 0, WithHeartbeatBucket(hbKV, 50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, shard.Start(t.Context()))
	t.Cleanup(func() { _ = shard.Stop() })

	_, err = hbKV.Put(t.Context(), heartbeatPrefix+"."+client.NodeID(), []byte("now"))
	require.NoError(t, err)
	require.NoError(t, client.SendIntroduction(t.Context(), "h", cfg.UnicastPort))
	require.Equal(t, []string{client.NodeID()}, shard.Members())

	require.NoError(t, hbKV.Delete(t.Context(), heartbeatPrefix+"."+client.NodeID()))
	require.Eventually(t, func() bool { return len(shard.Members()) == 0 }, 2*time.Second, 20*time.Millisecond)
}
