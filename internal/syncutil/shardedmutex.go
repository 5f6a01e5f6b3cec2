// Package syncutil holds bounded per-key locking primitives.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex provides a fixed-size pool of mutexes keyed by byte strings.
// Memory stays bounded however many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the key formed by parts and returns an unlock
// function.
func (s *ShardedMutex) Lock(parts ...[]byte) func() {
	mu := &s.shards[shardIndex(parts)]
	mu.Lock()
	return mu.Unlock
}

// shardIndex hashes each part with a separator so ("ab","c") and ("a","bc")
// land on independent shards.
func shardIndex(parts [][]byte) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32() % shardCount
}
