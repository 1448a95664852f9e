package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		SafetyFactorLow:  0.7,
		SafetyFactorHigh: 0.8,
		SafetyThreshold:  3,
		CooldownBase:     60 * time.Second,
		CooldownMax:      300 * time.Second,
	}
}

func newTestLimiter(clock *fakeClock) *AdaptiveRateLimiter {
	l := NewAdaptiveRateLimiter(testOptions())
	l.now = clock.Now
	return l
}

func statusOf(t *testing.T, l *AdaptiveRateLimiter, name string) ProviderStatus {
	t.Helper()
	for _, s := range l.Status() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("provider %s not registered", name)
	return ProviderStatus{}
}

func TestRegisterPicksSafetyByLimit(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Register("small", 3)
	l.Register("large", 5)

	assert.Equal(t, 0.7, statusOf(t, l, "small").SafetyFactor)
	assert.Equal(t, 0.8, statusOf(t, l, "large").SafetyFactor)
	assert.Equal(t, 8, l.TotalCapacity())
}

func TestMinInterval(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	assert.Equal(t, time.Duration(0), l.MinInterval())

	l.Register("a", 3)
	l.Register("b", 3)
	l.Register("c", 5)

	assert.Equal(t, time.Minute/11, l.MinInterval())
}

func TestConsumeReportsDrainedBucket(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("p", 1) // effective capacity floors at one token

	assert.True(t, l.Consume("p"))
	assert.False(t, l.Consume("p"), "second take must fail, the only token is gone")
	assert.False(t, l.Consume("ghost"))
}

func TestPickProviderPrefersIdleFullBucket(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Register("busy", 10)
	l.Register("idle", 10)

	// Drain most of busy's budget and stamp it as just used.
	for i := 0; i < 7; i++ {
		l.Consume("busy")
	}

	name, ok := l.PickProvider(nil)
	require.True(t, ok)
	assert.Equal(t, "idle", name)
}

func TestPickProviderSkipsCooldownAndEmptyBuckets(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Register("limited", 1) // effective capacity floors at 1
	l.Register("angry", 5)

	l.OnRateLimited("angry")

	l.Consume("limited")

	_, ok := l.PickProvider(nil)
	assert.False(t, ok, "both providers should be unavailable")

	// After the cooldown expires the rate-limited one is eligible again.
	clock.Advance(61 * time.Second)
	name, ok := l.PickProvider(nil)
	require.True(t, ok)
	assert.Equal(t, "angry", name)
}

func TestPickProviderHonorsCandidateList(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Register("a", 5)
	l.Register("b", 5)

	name, ok := l.PickProvider([]string{"b"})
	require.True(t, ok)
	assert.Equal(t, "b", name)
}

func TestCooldownGrowsExponentiallyAndCaps(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("flaky", 5)

	expected := []float64{60, 120, 240, 300, 300}
	for i, want := range expected {
		l.OnRateLimited("flaky")
		got := statusOf(t, l, "flaky").CooldownRemaining
		assert.Equal(t, want, got, "cooldown after error %d", i+1)
	}
}

func TestSuccessStreakRaisesSafety(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("steady", 5) // starts at 0.8

	for i := 0; i < 9; i++ {
		l.OnSuccess("steady")
	}
	assert.Equal(t, 0.8, statusOf(t, l, "steady").SafetyFactor)

	l.OnSuccess("steady")
	assert.InDelta(t, 0.85, statusOf(t, l, "steady").SafetyFactor, 1e-9)
}

func TestRateLimitCutsSafetyAndSuccessResetsErrors(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("p", 5)

	l.OnRateLimited("p")
	status := statusOf(t, l, "p")
	assert.InDelta(t, 0.7, status.SafetyFactor, 1e-9)
	assert.Equal(t, 1, status.ConsecutiveErrors)

	clock.Advance(61 * time.Second)
	l.OnSuccess("p")
	assert.Equal(t, 0, statusOf(t, l, "p").ConsecutiveErrors)

	// The error streak restarts from one, so the cooldown is back at base.
	l.OnRateLimited("p")
	assert.Equal(t, 60.0, statusOf(t, l, "p").CooldownRemaining)
}

func TestTransientErrorKeepsSafetyFactor(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("p", 5)

	l.OnTransientError("p")
	status := statusOf(t, l, "p")
	assert.InDelta(t, 0.8, status.SafetyFactor, 1e-9)
	assert.Equal(t, 60.0, status.CooldownRemaining)
}

func TestWaitForAnyReturnsImmediatelyWhenAvailable(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("p", 5)

	name, ok := l.WaitForAny(context.Background(), time.Second, nil)
	require.True(t, ok)
	assert.Equal(t, "p", name)
}

func TestWaitForAnyTimesOut(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("p", 5)
	l.OnRateLimited("p") // 60s cooldown, far beyond the wait below

	start := time.Now()
	_, ok := l.WaitForAny(context.Background(), 50*time.Millisecond, nil)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForAnyHonorsContextCancel(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	l.Register("p", 5)
	l.OnRateLimited("p")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := l.WaitForAny(ctx, time.Minute, nil)
	assert.False(t, ok)
}
