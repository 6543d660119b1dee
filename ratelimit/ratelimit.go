// Package ratelimit implements the token bucket that paces REST workers.
// Each worker owns its own limiter; there is no cross-process coordination.
package ratelimit

import (
	"time"
)

// Limiter is a token bucket with fractional refill. The allowance refills
// continuously at rate/perSeconds tokens per second and is clamped at rate.
type Limiter struct {
	rate       float64
	perSeconds float64
	allowance  float64
	lastCheck  time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a limiter allowing rate tokens every perSeconds seconds,
// starting with a full allowance.
func New(rate float64, perSeconds float64) *Limiter {
	if perSeconds <= 0 {
		perSeconds = 1
	}
	return &Limiter{
		rate:       rate,
		perSeconds: perSeconds,
		allowance:  rate,
		lastCheck:  time.Now(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// GetSleep refreshes the allowance and, if n tokens are available, consumes
// them and returns 0. Otherwise it returns how long the caller would have
// to wait for n tokens; nothing is consumed.
func (l *Limiter) GetSleep(n float64) time.Duration {
	current := l.now()
	elapsed := current.Sub(l.lastCheck).Seconds()
	l.lastCheck = current

	l.allowance += elapsed * (l.rate / l.perSeconds)
	if l.allowance > l.rate {
		l.allowance = l.rate
	}

	if l.allowance >= n {
		l.allowance -= n
		return 0
	}

	micros := (n - l.allowance) * (l.perSeconds / l.rate) * float64(time.Second/time.Microsecond)
	return time.Duration(micros) * time.Microsecond
}

// WaitUntilAvailable blocks until n tokens have been consumed.
func (l *Limiter) WaitUntilAvailable(n float64) {
	for {
		d := l.GetSleep(n)
		if d == 0 {
			return
		}
		l.sleep(d)
	}
}

// Wait consumes a single token, blocking as needed.
func (l *Limiter) Wait() {
	l.WaitUntilAvailable(1)
}
