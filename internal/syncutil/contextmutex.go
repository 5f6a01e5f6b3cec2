package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is a ShardedMutex whose waiters can give up when
// their context ends.
type ContextShardedMutex struct {
	shards [shardCount]chanMutex
	once   sync.Once
}

// chanMutex is a one-slot channel used as a lock so acquisition can select
// on ctx.Done().
type chanMutex struct {
	ch chan struct{}
}

// NewContextShardedMutex creates a new context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{}
		}
	})
}

// LockContext acquires the mutex for the key formed by parts. On success the
// caller must call the returned unlock function. If ctx ends first it
// returns the context error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, parts ...[]byte) (func(), error) {
	m.init()
	shard := &m.shards[shardIndex(parts)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LockAll acquires every shard in index order, excluding all keyed holders
// at once. Callers holding a single shard never deadlock against it. If ctx
// ends first the shards taken so far are released.
func (m *ContextShardedMutex) LockAll(ctx context.Context) (func(), error) {
	m.init()
	unlock := func(n int) {
		for i := n - 1; i >= 0; i-- {
			m.shards[i].ch <- struct{}{}
		}
	}
	for i := range m.shards {
		select {
		case <-m.shards[i].ch:
		case <-ctx.Done():
			unlock(i)
			return nil, ctx.Err()
		}
	}
	return func() { unlock(shardCount) }, nil
}
