// Package ratelimit throttles outbound calls to shared upstreams such as JSON-RPC nodes.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter blocks callers until a request may proceed.
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket allows refillRate requests per second with bursts up to capacity.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a limiter; refillRate <= 0 means unlimited.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	limit := rate.Inf
	if refillRate > 0 {
		limit = rate.Limit(refillRate)
	}
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, capacity)}
}

func (tb *TokenBucket) Allow() bool {
	return tb.limiter.Allow()
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}

// GetRemaining reports the whole tokens currently available.
func (tb *TokenBucket) GetRemaining() int {
	return int(tb.limiter.TokensAt(time.Now()))
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Allow() bool                    { return true }
