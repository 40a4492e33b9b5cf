package main

import (
	"sync"
	"time"

	"github.com/pyr33x/goqtt/internal/broker"
)

// rateLimiter is a token-bucket interceptor example: at most maxRate
// messages per window per client, refilled wholesale once the window
// elapses. Not wired into main() by default; embedders opt in with
// broker.Use(newRateLimiter(...).intercept).
type rateLimiter struct {
	maxRate int
	window  time.Duration

	mu      sync.Mutex
	buckets map[string]rateBucket
}

type rateBucket struct {
	tokens     int
	lastRefill time.Time
}

func newRateLimiter(maxRate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		maxRate: maxRate,
		window:  window,
		buckets: make(map[string]rateBucket),
	}
}

// intercept drops a publish once its sender has exhausted its window's
// token budget. Broker-internal publishes (empty SenderID) are exempt.
func (r *rateLimiter) intercept(ctx *broker.MessageContext) {
	if ctx.SenderID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	bucket, ok := r.buckets[ctx.SenderID]
	if !ok {
		r.buckets[ctx.SenderID] = rateBucket{tokens: r.maxRate - 1, lastRefill: now}
		return
	}

	if now.Sub(bucket.lastRefill) >= r.window {
		r.buckets[ctx.SenderID] = rateBucket{tokens: r.maxRate - 1, lastRefill: now}
		return
	}

	if bucket.tokens <= 0 {
		ctx.Dropped = true
		return
	}

	bucket.tokens--
	r.buckets[ctx.SenderID] = bucket
}

func (r *rateLimiter) cleanupClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, clientID)
}
