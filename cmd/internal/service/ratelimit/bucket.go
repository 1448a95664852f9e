// Package ratelimit paces requests across the registry providers. Each
// provider gets a token bucket whose effective capacity is its declared
// per-minute limit scaled by an adaptive safety factor; the limiter on top
// picks which bucket serves the next request.
package ratelimit

import (
	"math"
	"time"
)

// Safety factor bounds. The adaptive feedback never pushes a bucket
// outside this range.
const (
	SafetyFloor = 0.3
	SafetyCeil  = 1.0
)

// TokenBucket tracks rate budget for a single provider.
//
// It is not safe for concurrent use on its own; the AdaptiveRateLimiter
// serializes all access under one mutex.
type TokenBucket struct {
	name           string
	limitPerMinute int
	safetyFactor   float64
	tokens         float64
	lastRefill     time.Time

	now func() time.Time
}

func NewTokenBucket(name string, limitPerMinute int, safetyFactor float64) *TokenBucket {
	b := &TokenBucket{
		name:           name,
		limitPerMinute: limitPerMinute,
		safetyFactor:   clampSafety(safetyFactor),
		now:            time.Now,
	}
	b.lastRefill = b.now()
	// Start full so a fresh boot can burst up to the effective capacity.
	b.tokens = b.EffectiveCapacity()
	return b
}

// EffectiveCapacity is floor(limit * safety), never below one token.
func (b *TokenBucket) EffectiveCapacity() float64 {
	capacity := math.Floor(float64(b.limitPerMinute) * b.safetyFactor)
	if capacity < 1 {
		return 1
	}
	return capacity
}

// RefillRate is the token regeneration speed in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	return float64(b.limitPerMinute) * b.safetyFactor / 60.0
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.EffectiveCapacity(), b.tokens+elapsed*b.RefillRate())
}

// TryTake consumes one token if available. Non-blocking.
func (b *TokenBucket) TryTake() bool {
	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// TimeUntilAvailable reports how long until a full token is regenerated.
func (b *TokenBucket) TimeUntilAvailable() time.Duration {
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	seconds := (1 - b.tokens) / b.RefillRate()
	return time.Duration(seconds * float64(time.Second))
}

// AdjustSafety shifts the safety factor by delta, clamped to the bounds.
// Tokens above the shrunken capacity are discarded.
func (b *TokenBucket) AdjustSafety(delta float64) {
	b.refill()
	b.safetyFactor = clampSafety(b.safetyFactor + delta)
	b.tokens = math.Min(b.tokens, b.EffectiveCapacity())
}

// Tokens returns the current fractional token count after a refill.
func (b *TokenBucket) Tokens() float64 {
	b.refill()
	return b.tokens
}

func (b *TokenBucket) SafetyFactor() float64 {
	return b.safetyFactor
}

func clampSafety(factor float64) float64 {
	return math.Min(SafetyCeil, math.Max(SafetyFloor, factor))
}
