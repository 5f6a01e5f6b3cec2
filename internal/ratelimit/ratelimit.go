// Package ratelimit provides token-bucket limiting for the operations API
// and byte-level bandwidth limits for limited peer sessions.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures request rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per client per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks request rate limits by key
type Limiter struct {
	buckets *bucketSet
}

// New creates a new request limiter
func New(cfg Config) *Limiter {
	return &Limiter{
		buckets: newBucketSet(float64(cfg.RequestsPerMinute)/60.0, float64(cfg.BurstSize), cfg.CleanupInterval),
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	l.buckets.stopCleanup()
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	return l.buckets.take(key, 1)
}

// Middleware returns a Gin middleware that rate limits by client IP, or by
// admin token when one is presented.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if token := c.GetHeader("X-Admin-Token"); token != "" {
			key = "admin:" + token[:min(8, len(token))]
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// bucketSet is a keyed token bucket shared by request and byte limiters.
type bucketSet struct {
	rate  float64 // tokens per second
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newBucketSet(rate, burst float64, cleanup time.Duration) *bucketSet {
	b := &bucketSet{
		rate:    rate,
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	go b.cleanup(cleanup)
	return b
}

// cleanup removes idle buckets; an idle bucket has refilled to burst anyway.
func (b *bucketSet) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			cutoff := b.now().Add(-2 * time.Minute)
			for key, st := range b.buckets {
				if st.lastCheck.Before(cutoff) {
					delete(b.buckets, key)
				}
			}
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}

func (b *bucketSet) stopCleanup() {
	b.once.Do(func() { close(b.stop) })
}

func (b *bucketSet) take(key string, n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st, ok := b.buckets[key]
	if !ok {
		st = &bucket{tokens: b.burst, lastCheck: now}
		b.buckets[key] = st
	} else {
		st.tokens += now.Sub(st.lastCheck).Seconds() * b.rate
		if st.tokens > b.burst {
			st.tokens = b.burst
		}
		st.lastCheck = now
	}

	if st.tokens >= n {
		st.tokens -= n
		return true
	}
	return false
}

func (b *bucketSet) forget(key string) {
	b.mu.Lock()
	delete(b.buckets, key)
	b.mu.Unlock()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
