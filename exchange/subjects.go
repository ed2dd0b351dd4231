package exchange

import (
	"fmt"

	"github.com/arloliu/sharedtrain/internal/hash"
)

func shardName(i int) string {
	return fmt.Sprintf("shard-%d", i)
}

func shardUpdatesSubject(prefix string, shard int) string {
	return fmt.Sprintf("%s.shard.%d.updates", prefix, shard)
}

func shardIntroSubject(prefix string, shard int) string {
	return fmt.Sprintf("%s.shard.%d.intro", prefix, shard)
}

func nodeSubject(prefix, nodeID string) string {
	return fmt.Sprintf("%s.node.%s", prefix, nodeID)
}

func broadcastSubject(prefix string) string {
	return prefix + ".broadcast"
}

func broadcastIntroSubject(prefix string) string {
	return prefix + ".intro"
}

// NewShardRing builds the ring that maps node IDs to shard indexes. Clients
// and shards must build it from the same shard count.
func NewShardRing(shards int) *hash.Ring {
	names := make([]string, shards)
	for i := range names {
		names[i] = shardName(i)
	}

	return hash.NewRing(names, 0, 0)
}
