package ratelimit

import (
	"sync"
	"time"
)

// One token is stored as 1e9 nano-tokens, so a refill rate of N tokens/sec
// adds exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket limits events per second for a single connection. Refill is
// integer arithmetic driven by a Clock so tests can step time precisely.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec

	avail int64 // nano-tokens
	last  time.Time
}

// NewTokenBucket returns a full bucket holding capacity tokens that refills at
// rate tokens per second. A nil clock uses the wall clock.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if rate < 0 {
		rate = 0
	}
	c := toNano(capacity)
	return &TokenBucket{
		clock:    clock,
		capacity: c,
		rate:     rate,
		avail:    c,
		last:     clock.Now(),
	}
}

// Allow takes n tokens if the bucket holds them. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		return
	}
	// elapsed*rate may overflow; anything past the time needed to fill is a
	// full bucket anyway.
	if elapsed >= (b.capacity-b.avail)/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail += elapsed * b.rate
	if b.avail > b.capacity {
		b.avail = b.capacity
	}
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
