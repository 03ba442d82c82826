// Package ratelimit provides the request pacing primitives used by the
// session client: a token bucket for overall request budget and a per-host
// pacer enforcing a minimum delay between consecutive requests.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit.
	Allow() bool
	// Wait blocks until the rate limit allows another request or the
	// context is cancelled.
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state.
	Reset()
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// Allow checks if a request can proceed.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for !tb.Allow() {
		tb.mu.Lock()
		wait := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if wait <= 0 {
			wait = 100 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

// Reset restores the bucket to full capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

// HostPacer enforces a minimum delay between consecutive requests to the
// same host. The session client calls Wait before every request.
type HostPacer struct {
	minDelay time.Duration
	last     map[string]time.Time
	mu       sync.Mutex
}

// NewHostPacer creates a pacer with the given minimum inter-request delay.
func NewHostPacer(minDelay time.Duration) *HostPacer {
	return &HostPacer{
		minDelay: minDelay,
		last:     make(map[string]time.Time),
	}
}

// Wait blocks until at least the minimum delay has elapsed since the last
// request to host, then records the new request time. Returns early with
// the context error on cancellation, leaving the recorded time untouched.
func (p *HostPacer) Wait(ctx context.Context, host string) error {
	if p.minDelay <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()
	wait := time.Duration(0)
	if last, ok := p.last[host]; ok {
		if elapsed := now.Sub(last); elapsed < p.minDelay {
			wait = p.minDelay - elapsed
		}
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// instead of all firing at once.
	p.last[host] = now.Add(wait)
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
