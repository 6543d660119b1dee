package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets the tests advance time deterministically.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time          { return c.current }
func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestLimiter(rate, perSeconds float64) (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	l := New(rate, perSeconds)
	l.lastCheck = clock.current
	l.now = clock.now
	l.sleep = func(d time.Duration) { clock.advance(d) }
	return l, clock
}

func TestGetSleepConsumesFromFullBucket(t *testing.T) {
	l, _ := newTestLimiter(2, 1)

	assert.Equal(t, time.Duration(0), l.GetSleep(1))
	assert.Equal(t, time.Duration(0), l.GetSleep(1))

	// Bucket drained: next token is half a second away at 2 tokens/s.
	d := l.GetSleep(1)
	assert.InDelta(t, 500*time.Millisecond, d, float64(time.Millisecond))
}

func TestGetSleepDoesNotConsumeWhenShort(t *testing.T) {
	l, clock := newTestLimiter(1, 1)

	require.Equal(t, time.Duration(0), l.GetSleep(1))
	d1 := l.GetSleep(1)
	require.NotEqual(t, time.Duration(0), d1)

	// No time has passed and nothing was consumed; the wait must not grow.
	d2 := l.GetSleep(1)
	assert.InDelta(t, d1, d2, float64(time.Millisecond))

	clock.advance(time.Second)
	assert.Equal(t, time.Duration(0), l.GetSleep(1))
}

func TestAllowanceClampsAtRate(t *testing.T) {
	l, clock := newTestLimiter(4, 1)

	clock.advance(time.Hour)
	// Even after an hour idle, only `rate` tokens are available at once.
	for i := 0; i < 4; i++ {
		require.Equal(t, time.Duration(0), l.GetSleep(1), "token %d", i)
	}
	assert.NotEqual(t, time.Duration(0), l.GetSleep(1))
}

func TestFractionalRefill(t *testing.T) {
	l, clock := newTestLimiter(2, 1)

	require.Equal(t, time.Duration(0), l.GetSleep(2))
	clock.advance(250 * time.Millisecond)

	// 0.5 tokens refilled; one full token is 250ms away.
	d := l.GetSleep(1)
	assert.InDelta(t, 250*time.Millisecond, d, float64(time.Millisecond))
}

func TestWaitUntilAvailableBlocksThenConsumes(t *testing.T) {
	l, clock := newTestLimiter(10, 1)
	start := clock.current

	for i := 0; i < 10; i++ {
		l.Wait()
	}
	require.Equal(t, start, clock.current, "full bucket must not sleep")

	l.Wait()
	elapsed := clock.current.Sub(start)
	assert.InDelta(t, 100*time.Millisecond, elapsed, float64(2*time.Millisecond))
}

// Throughput over a long synthetic window converges to the configured rate.
func TestThroughputConvergence(t *testing.T) {
	l, clock := newTestLimiter(5, 1)
	start := clock.current

	const tokens = 150
	for i := 0; i < tokens; i++ {
		l.Wait()
	}

	elapsed := clock.current.Sub(start).Seconds()
	observed := float64(tokens) / elapsed
	assert.InDelta(t, 5.0, observed, 0.5)
}
