// Package shard implements the engine's shard router and cross-shard
// two-phase commit coordinator. Concepts and same-shard associations
// route to a single shard by a hash of the concept id; associations whose
// source and target concepts land on different shards go through the
// coordinator instead of a single WAL append.
package shard

import (
	"hash/maphash"

	"github.com/synapsedb/engine/pkg/types"
)

var routerSeed = maphash.MakeSeed()

// Router maps a ConceptId to one of N shards by hash64(id) mod N, the
// same scheme as a consistent shard registry's key routing, simplified
// here to a fixed shard count (the engine doesn't rebalance shards at
// runtime).
type Router struct {
	n int
}

// NewRouter creates a router over n shards. n must be positive.
func NewRouter(n int) *Router {
	if n <= 0 {
		n = 1
	}
	return &Router{n: n}
}

// ShardFor returns the shard index that owns id.
func (r *Router) ShardFor(id types.ConceptId) int {
	var h maphash.Hash
	h.SetSeed(routerSeed)
	h.Write(id[:])
	return int(h.Sum64() % uint64(r.n))
}

// SameShard reports whether source and target concepts are owned by the
// same shard — associations between them can be appended to a single
// shard's WAL directly, bypassing the two-phase commit coordinator.
func (r *Router) SameShard(source, target types.ConceptId) bool {
	return r.ShardFor(source) == r.ShardFor(target)
}

// NumShards returns the configured shard count.
func (r *Router) NumShards() int { return r.n }
