// Package hash maps node IDs onto coordination shards with a consistent
// hash ring, so adding a shard moves only a fraction of the nodes.
package hash

import (
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"
)

// DefaultVirtualNodes is the number of ring positions per member when the
// caller passes zero.
const DefaultVirtualNodes = 64

// Ring is an immutable consistent hash ring with virtual nodes.
type Ring struct {
	points  []point
	members []string
	seed    uint64
}

type point struct {
	hash   uint64
	member int
}

// NewRing builds a ring over members.
//
// Duplicate members are dropped, keeping the first occurrence so member
// indexes stay stable.
//
// Parameters:
//   - members: Member names (e.g., "shard-0", "shard-1")
//   - virtualNodes: Positions per member, <= 0 means DefaultVirtualNodes
//   - seed: Hash seed, 0 for the unseeded hash
//
// Example:
//
//	ring := hash.NewRing([]string{"shard-0", "shard-1"}, 0, 0)
//	shard := ring.OwnerIndex("node-3")
func NewRing(members []string, virtualNodes int, seed uint64) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}

	r := &Ring{seed: seed}

	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		r.members = append(r.members, m)
	}

	r.points = make([]point, 0, len(r.members)*virtualNodes)
	for idx, m := range r.members {
		base := r.hash(m)
		for v := range virtualNodes {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(v)) //nolint:gosec // v is non-negative
			r.points = append(r.points, point{hash: xxh3.HashSeed(buf[:], base), member: idx})
		}
	}

	slices.SortFunc(r.points, func(a, b point) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		default:
			return 0
		}
	})

	return r
}

// Owner returns the member owning key, or "" for an empty ring.
func (r *Ring) Owner(key string) string {
	idx := r.OwnerIndex(key)
	if idx < 0 {
		return ""
	}

	return r.members[idx]
}

// OwnerIndex returns the index of the member owning key, or -1 for an empty ring.
func (r *Ring) OwnerIndex(key string) int {
	if len(r.points) == 0 {
		return -1
	}

	target := r.hash(key)
	idx, _ := slices.BinarySearchFunc(r.points, target, func(p point, t uint64) int {
		switch {
		case p.hash < t:
			return -1
		case p.hash > t:
			return 1
		default:
			return 0
		}
	})
	if idx >= len(r.points) {
		idx = 0
	}

	return r.points[idx].member
}

// Members returns a copy of the ring members in index order.
func (r *Ring) Members() []string {
	return append([]string(nil), r.members...)
}

// Size returns the number of virtual nodes on the ring.
func (r *Ring) Size() int {
	return len(r.points)
}

func (r *Ring) hash(key string) uint64 {
	if r.seed != 0 {
		return xxh3.HashStringSeed(key, r.seed)
	}

	return xxh3.HashString(key)
}
