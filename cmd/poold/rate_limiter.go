// rate_limiter.go - Per-account submission rate limiting
package main

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillPeriod); refills > 0 {
		rl.tokens += refills * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// AccountRateLimiter keeps one token bucket per bucket key. Keys are opaque;
// the caller decides which submissions share a bucket. At most maxBuckets
// buckets are kept, the least recently used one is dropped first.
type AccountRateLimiter struct {
	mu           sync.Mutex
	limiters     *lru.Cache
	maxTokens    int
	refillPeriod time.Duration
	now          func() time.Time
}

// defaultMaxBuckets bounds the number of tracked buckets when none is given.
const defaultMaxBuckets = 10000

// NewAccountRateLimiter allows perWindow submissions per bucket per window,
// tracking at most maxBuckets buckets. A non-positive perWindow disables
// limiting.
func NewAccountRateLimiter(perWindow int, window time.Duration, maxBuckets int) *AccountRateLimiter {
	if maxBuckets <= 0 {
		maxBuckets = defaultMaxBuckets
	}
	cache, err := lru.New(maxBuckets)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &AccountRateLimiter{
		limiters:     cache,
		maxTokens:    perWindow,
		refillPeriod: window,
		now:          time.Now,
	}
}

// Allow checks if a submission charged to key is allowed
func (a *AccountRateLimiter) Allow(key string) bool {
	if a.maxTokens <= 0 {
		return true
	}
	a.mu.Lock()
	var limiter *RateLimiter
	if v, ok := a.limiters.Get(key); ok {
		limiter = v.(*RateLimiter)
	} else {
		limiter = newRateLimiter(a.maxTokens, a.maxTokens, a.refillPeriod, a.now)
		a.limiters.Add(key, limiter)
	}
	a.mu.Unlock()

	return limiter.Allow()
}

// Tokens returns the remaining submissions of key in the current window.
func (a *AccountRateLimiter) Tokens(key string) int {
	v, ok := a.limiters.Peek(key)
	if !ok {
		return a.maxTokens
	}
	return v.(*RateLimiter).Tokens()
}

// Buckets returns the number of tracked buckets.
func (a *AccountRateLimiter) Buckets() int {
	return a.limiters.Len()
}
