package ratelimit

import (
	"sync"
	"time"
)

// Bandwidth decides whether a limited session may move n more bytes.
type Bandwidth interface {
	AllowBytes(key string, n uint64) bool
	// Release drops state for a session that has closed.
	Release(key string)
}

// ByteRate caps sustained throughput with a token bucket measured in bytes.
// A piece larger than the burst can never pass, so size the burst to at
// least one piece.
type ByteRate struct {
	buckets *bucketSet
}

// NewByteRate creates a byte-rate limiter.
func NewByteRate(bytesPerSec, burstBytes uint64) *ByteRate {
	if burstBytes == 0 {
		burstBytes = bytesPerSec
	}
	return &ByteRate{buckets: newBucketSet(float64(bytesPerSec), float64(burstBytes), time.Minute)}
}

func (r *ByteRate) AllowBytes(key string, n uint64) bool {
	return r.buckets.take(key, float64(n))
}

func (r *ByteRate) Release(key string) {
	r.buckets.forget(key)
}

// Stop stops the cleanup goroutine.
func (r *ByteRate) Stop() {
	r.buckets.stopCleanup()
}

// ByteCap allows a fixed total number of bytes per session.
type ByteCap struct {
	limit uint64

	mu   sync.Mutex
	used map[string]uint64
}

// NewByteCap creates a hard per-session byte cap.
func NewByteCap(limit uint64) *ByteCap {
	return &ByteCap{limit: limit, used: make(map[string]uint64)}
}

func (c *ByteCap) AllowBytes(key string, n uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	used := c.used[key]
	if n > c.limit-used {
		return false
	}
	c.used[key] = used + n
	return true
}

func (c *ByteCap) Release(key string) {
	c.mu.Lock()
	delete(c.used, key)
	c.mu.Unlock()
}

// Used returns bytes consumed by a session.
func (c *ByteCap) Used(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used[key]
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) AllowBytes(string, uint64) bool { return true }
func (Unlimited) Release(string)                 {}

var (
	_ Bandwidth = (*ByteRate)(nil)
	_ Bandwidth = (*ByteCap)(nil)
	_ Bandwidth = Unlimited{}
)
