package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
)

// Scoring weights for provider selection. Token headroom and recency
// dominate; the error factor nudges traffic away from flaky providers and
// the jitter breaks ties.
const (
	tokenWeight = 0.40
	timeWeight  = 0.40
	errorWeight = 0.15
	jitterSpan  = 0.05

	// successStreakStep: every this many consecutive successes the safety
	// factor is raised by safetyRaise.
	successStreakStep = 10
	safetyRaise       = 0.05
	safetyCut         = 0.10
)

type Options struct {
	// Providers at or below SafetyThreshold req/min start at
	// SafetyFactorLow; everyone else starts at SafetyFactorHigh.
	SafetyFactorLow  float64
	SafetyFactorHigh float64
	SafetyThreshold  int

	CooldownBase time.Duration
	CooldownMax  time.Duration
}

type providerState struct {
	bucket         *TokenBucket
	limitPerMinute int

	lastUsed      time.Time
	cooldownUntil time.Time

	consecutiveErrors    int
	consecutiveSuccesses int
}

// AdaptiveRateLimiter owns one token bucket per provider, selects the best
// provider for the next request and adapts per-provider safety factors from
// success and overload feedback.
type AdaptiveRateLimiter struct {
	mu            sync.Mutex
	providers     map[string]*providerState
	totalCapacity int
	opts          Options

	now func() time.Time
	rng *rand.Rand
}

func NewAdaptiveRateLimiter(opts Options) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		providers: make(map[string]*providerState),
		opts:      opts,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a provider with its declared per-minute limit.
func (l *AdaptiveRateLimiter) Register(name string, limitPerMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	safety := l.opts.SafetyFactorHigh
	if limitPerMinute <= l.opts.SafetyThreshold {
		safety = l.opts.SafetyFactorLow
	}

	bucket := NewTokenBucket(name, limitPerMinute, safety)
	bucket.now = l.now

	l.providers[name] = &providerState{
		bucket:         bucket,
		limitPerMinute: limitPerMinute,
	}
	l.totalCapacity += limitPerMinute

	log.Infof("provider %s registered: %d req/min, safety factor %.2f", name, limitPerMinute, safety)
}

// TotalCapacity is the sum of all registered per-minute limits.
func (l *AdaptiveRateLimiter) TotalCapacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalCapacity
}

// MinInterval is the shortest allowed gap between successive request
// starts across all providers combined.
func (l *AdaptiveRateLimiter) MinInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totalCapacity == 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / float64(l.totalCapacity))
}

// PickProvider selects the best provider with at least one full token.
// A nil candidate list means all registered providers. Providers in
// cooldown are skipped. Returns false when none qualifies right now.
func (l *AdaptiveRateLimiter) PickProvider(candidates []string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pickLocked(candidates)
}

func (l *AdaptiveRateLimiter) pickLocked(candidates []string) (string, bool) {
	now := l.now()

	best := ""
	bestScore := -1.0

	for _, name := range l.candidateNames(candidates) {
		state, ok := l.providers[name]
		if !ok {
			continue
		}
		if now.Before(state.cooldownUntil) {
			continue
		}
		if state.bucket.Tokens() < 1 {
			continue
		}

		tokenScore := state.bucket.Tokens() / state.bucket.EffectiveCapacity()

		timeScore := 1.0
		if !state.lastUsed.IsZero() {
			timeScore = now.Sub(state.lastUsed).Seconds() / 60.0
			if timeScore > 1 {
				timeScore = 1
			}
		}

		errorFactor := 1.0 / (1.0 + float64(state.consecutiveErrors))
		jitter := jitterSpan * l.rng.Float64()

		score := tokenWeight*tokenScore + timeWeight*timeScore + errorWeight*errorFactor + jitter
		if score > bestScore {
			bestScore = score
			best = name
		}
	}

	if best == "" {
		return "", false
	}
	return best, true
}

// Consume takes one token from the provider and stamps its last-used time.
// Callers invoke it immediately after PickProvider for the same request.
// It reports false when another caller drained the last token in between;
// the provider's last-used time is left untouched in that case.
func (l *AdaptiveRateLimiter) Consume(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.providers[name]
	if !ok {
		log.Warnf("consume on unregistered provider: %s", name)
		return false
	}
	if !state.bucket.TryTake() {
		return false
	}
	state.lastUsed = l.now()
	return true
}

// OnSuccess resets the error streak and, every ten consecutive successes,
// rewards the provider with a slightly higher safety factor.
func (l *AdaptiveRateLimiter) OnSuccess(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.providers[name]
	if !ok {
		return
	}

	state.consecutiveErrors = 0
	state.consecutiveSuccesses++

	if state.consecutiveSuccesses%successStreakStep == 0 {
		state.bucket.AdjustSafety(+safetyRaise)
		log.Infof("provider %s safety factor raised to %.2f after %d consecutive successes",
			name, state.bucket.SafetyFactor(), state.consecutiveSuccesses)
	}
}

// OnRateLimited puts the provider in an exponentially growing cooldown and
// cuts its safety factor.
func (l *AdaptiveRateLimiter) OnRateLimited(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.providers[name]
	if !ok {
		return
	}

	state.consecutiveErrors++
	state.consecutiveSuccesses = 0
	state.bucket.AdjustSafety(-safetyCut)
	l.startCooldownLocked(name, state)
}

// OnTransientError backs the provider off like a rate limit but leaves its
// safety factor alone: the provider did not complain about our rate.
func (l *AdaptiveRateLimiter) OnTransientError(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.providers[name]
	if !ok {
		return
	}

	state.consecutiveErrors++
	state.consecutiveSuccesses = 0
	l.startCooldownLocked(name, state)
}

func (l *AdaptiveRateLimiter) startCooldownLocked(name string, state *providerState) {
	cooldown := l.opts.CooldownBase
	for i := 1; i < state.consecutiveErrors; i++ {
		cooldown *= 2
		if cooldown >= l.opts.CooldownMax {
			break
		}
	}
	if cooldown > l.opts.CooldownMax {
		cooldown = l.opts.CooldownMax
	}

	state.cooldownUntil = l.now().Add(cooldown)
	log.Warnf("provider %s in cooldown for %s (%d consecutive errors), safety factor %.2f",
		name, cooldown, state.consecutiveErrors, state.bucket.SafetyFactor())
}

// WaitForAny blocks cooperatively until some candidate provider can serve a
// request, up to timeout. It wakes when the earliest bucket refill or
// cooldown expiry is due.
func (l *AdaptiveRateLimiter) WaitForAny(ctx context.Context, timeout time.Duration, candidates []string) (string, bool) {
	deadline := time.Now().Add(timeout)

	for {
		if name, ok := l.PickProvider(candidates); ok {
			return name, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false
		}

		wait := l.nextAvailability(candidates)
		// Small buffer over the earliest availability, re-check at least
		// once a second, and never sleep past the deadline.
		wait += 100 * time.Millisecond
		if wait > time.Second {
			wait = time.Second
		}
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(wait):
		}
	}
}

// nextAvailability estimates the soonest instant any candidate could hand
// out a token, counting both bucket refills and cooldown expiries.
func (l *AdaptiveRateLimiter) nextAvailability(candidates []string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	min := time.Second

	first := true
	for _, name := range l.candidateNames(candidates) {
		state, ok := l.providers[name]
		if !ok {
			continue
		}

		wait := state.bucket.TimeUntilAvailable()
		if cooldownLeft := state.cooldownUntil.Sub(now); cooldownLeft > wait {
			wait = cooldownLeft
		}

		if first || wait < min {
			min = wait
			first = false
		}
	}

	if min < 0 {
		min = 0
	}
	return min
}

func (l *AdaptiveRateLimiter) candidateNames(candidates []string) []string {
	if candidates != nil {
		return candidates
	}
	names := make([]string, 0, len(l.providers))
	for name := range l.providers {
		names = append(names, name)
	}
	return names
}

// ProviderStatus is a point-in-time view of one bucket for the admin API.
type ProviderStatus struct {
	Name              string  `json:"name"`
	LimitPerMinute    int     `json:"limit_per_minute"`
	Tokens            float64 `json:"tokens"`
	EffectiveCapacity float64 `json:"effective_capacity"`
	SafetyFactor      float64 `json:"safety_factor"`
	CooldownRemaining float64 `json:"cooldown_remaining_seconds"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
}

func (l *AdaptiveRateLimiter) Status() []ProviderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	statuses := make([]ProviderStatus, 0, len(l.providers))
	for name, state := range l.providers {
		cooldown := state.cooldownUntil.Sub(now).Seconds()
		if cooldown < 0 {
			cooldown = 0
		}
		statuses = append(statuses, ProviderStatus{
			Name:              name,
			LimitPerMinute:    state.limitPerMinute,
			Tokens:            state.bucket.Tokens(),
			EffectiveCapacity: state.bucket.EffectiveCapacity(),
			SafetyFactor:      state.bucket.SafetyFactor(),
			CooldownRemaining: cooldown,
			ConsecutiveErrors: state.consecutiveErrors,
		})
	}
	return statuses
}
