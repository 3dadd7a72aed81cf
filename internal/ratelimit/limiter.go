// Package ratelimit provides a keyed token-bucket limiter. The API server
// uses it per client IP and the notification dispatcher uses it per channel.
package ratelimit

import (
	"sync"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/clock"
)

// Limiter manages rate limiting for multiple keys
type Limiter struct {
	buckets map[string]*bucket
	mu      sync.RWMutex
}

// bucket implements a token bucket rate limiter
type bucket struct {
	tokens   int
	limit    int
	interval time.Duration
	lastFill time.Time
	mu       sync.Mutex
}

// NewLimiter creates a new rate limiter
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
	}
}

func (l *Limiter) bucketFor(key string, limit int, interval time.Duration) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			tokens:   limit,
			limit:    limit,
			interval: interval,
			lastFill: clock.Now(),
		}
		l.buckets[key] = b
	}
	return b
}

// Allow checks if a request for the given key is allowed.
// limit: maximum number of requests
// interval: time window (e.g., time.Minute for requests per minute)
func (l *Limiter) Allow(key string, limit int, interval time.Duration) bool {
	return l.bucketFor(key, limit, interval).take(1)
}

// AllowN checks if n requests are allowed
func (l *Limiter) AllowN(key string, limit int, interval time.Duration, n int) bool {
	return l.bucketFor(key, limit, interval).take(n)
}

// take attempts to take n tokens from the bucket
func (b *bucket) take(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Refill after the interval elapses
	now := clock.Now()
	if now.Sub(b.lastFill) >= b.interval {
		b.tokens = b.limit
		b.lastFill = now
	}

	if b.tokens < n {
		return false
	}

	b.tokens -= n
	return true
}

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired removes buckets that have not been used recently
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Now()
	for key, b := range l.buckets {
		b.mu.Lock()
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine to clean up expired buckets
func (l *Limiter) StartCleanup(interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			l.CleanupExpired(maxAge)
		}
	}()
}
