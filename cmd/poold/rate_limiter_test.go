package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiterRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rl := newRateLimiter(2, 1, time.Second, clock.Now)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	clock.Advance(999 * time.Millisecond)
	assert.False(t, rl.Allow())
	clock.Advance(time.Millisecond)
	assert.True(t, rl.Allow())
	assert.Equal(t, 0, rl.Tokens())

	// refills never exceed the bucket size
	clock.Advance(time.Hour)
	assert.True(t, rl.Allow())
	assert.Equal(t, 1, rl.Tokens())
}

func TestAccountRateLimiter(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a := NewAccountRateLimiter(2, time.Minute, 0)
	a.now = clock.Now

	assert.True(t, a.Allow("alice"))
	assert.True(t, a.Allow("alice"))
	assert.False(t, a.Allow("alice"))
	assert.True(t, a.Allow("bob"), "accounts have separate buckets")
	assert.Equal(t, 1, a.Tokens("bob"))
	assert.Equal(t, 2, a.Tokens("carol"))

	clock.Advance(time.Minute)
	assert.True(t, a.Allow("alice"))
}

func TestAccountRateLimiterDisabled(t *testing.T) {
	a := NewAccountRateLimiter(0, time.Minute, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, a.Allow("alice"))
	}
}

func TestAccountRateLimiterBounded(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	a := NewAccountRateLimiter(1, time.Minute, 2)
	a.now = clock.Now

	assert.True(t, a.Allow("alice"))
	assert.True(t, a.Allow("bob"))
	assert.False(t, a.Allow("bob"))
	assert.True(t, a.Allow("carol"))
	assert.Equal(t, 2, a.Buckets())

	// alice was least recently used and starts over with a full bucket
	assert.Equal(t, 1, a.Tokens("alice"))
	assert.Equal(t, 0, a.Tokens("bob"))
}
