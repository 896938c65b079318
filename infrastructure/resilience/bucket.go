package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a token-bucket rate limiter backed by golang.org/x/time/rate.
// It exposes a tryConsume() contract: maxTokens caps burst size, refillRate
// tokens accrue every refillIntervalMs.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	max     int
}

// NewTokenBucket creates a bucket holding at most maxTokens, refilling at
// refillRate tokens per refillIntervalMs.
func NewTokenBucket(maxTokens int, refillRate int, refillIntervalMs int) *TokenBucket {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	if refillIntervalMs <= 0 {
		refillIntervalMs = 1000
	}

	perSecond := float64(refillRate) / (float64(refillIntervalMs) / 1000.0)

	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(perSecond), maxTokens),
		max:     maxTokens,
	}
}

// TryConsume attempts to take a single token. Returns true if the request is
// admitted, false if the bucket is exhausted.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.Allow()
}

// TryConsumeN attempts to take n tokens atomically.
func (b *TokenBucket) TryConsumeN(n int) bool {
	if n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.AllowN(time.Now(), n)
}

// Tokens reports the current (possibly fractional) number of available tokens.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.Tokens()
}

// Max returns the bucket's burst capacity.
func (b *TokenBucket) Max() int {
	return b.max
}
