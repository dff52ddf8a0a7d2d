package cluster

import (
	"hash/fnv"
	"slices"
)

// DefaultShardCount is the number of shards aggregate ids are partitioned
// into. Shards, not nodes, are the unit of ownership, so the mapping from id
// to shard never moves when membership changes.
const DefaultShardCount = 12

// Ring maps aggregate ids to shards and shards to owning nodes. The mapping
// is deterministic for a fixed membership view: every node computes the same
// owner for the same id.
type Ring struct {
	shardCount int
	nodes      []Node
}

// NewRing builds a ring over the given nodes. Nodes are ordered by name so
// every member derives an identical ring regardless of configuration order.
func NewRing(shardCount int, nodes []Node) *Ring {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}

	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b Node) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})

	return &Ring{
		shardCount: shardCount,
		nodes:      sorted,
	}
}

// Shard returns the shard an aggregate id belongs to.
func (r *Ring) Shard(aggregateID string) int {
	h := fnv.New32a()
	h.Write([]byte(aggregateID))

	return int(h.Sum32() % uint32(r.shardCount))
}

// OwnerOf resolves the node owning an aggregate id.
func (r *Ring) OwnerOf(aggregateID string) Node {
	return r.nodes[r.Shard(aggregateID)%len(r.nodes)]
}

// ShardCount returns the number of shards.
func (r *Ring) ShardCount() int {
	return r.shardCount
}
