package limiter

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Forever is returned by TimeUntilAvailable when the limiter can never grant a slot.
const Forever = time.Duration(math.MaxInt64)

// Limiter grants at most maxCalls slots inside any trailing window of length period.
// Expired reservations are purged lazily on every call.
type Limiter struct {
	maxCalls int
	period   time.Duration
	now      func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

// New builds a limiter. A zero maxCalls never grants a slot.
func New(maxCalls int, period time.Duration) (*Limiter, error) {
	if maxCalls < 0 {
		return nil, fmt.Errorf("max calls must not be negative, got %d", maxCalls)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %v", period)
	}

	return &Limiter{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
	}, nil
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

func (l *Limiter) MaxCalls() int {
	return l.maxCalls
}

func (l *Limiter) Period() time.Duration {
	return l.period
}

// TryAcquire reserves a slot if one is free and reports whether it did.
// Check and reserve happen under the same lock.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxCalls <= 0 {
		return false
	}

	now := l.now()
	l.purge(now)

	if len(l.calls) >= l.maxCalls {
		return false
	}

	l.calls = append(l.calls, now)
	return true
}

// TimeUntilAvailable returns zero when a slot is free now, otherwise the time until
// the oldest reservation leaves the window.
func (l *Limiter) TimeUntilAvailable() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxCalls <= 0 {
		return Forever
	}

	now := l.now()
	l.purge(now)

	if len(l.calls) < l.maxCalls {
		return 0
	}

	wait := l.calls[0].Add(l.period).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// idle reports whether no reservation is left inside the window.
func (l *Limiter) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purge(l.now())
	return len(l.calls) == 0
}

func (l *Limiter) purge(now time.Time) {
	cutoff := now.Add(-l.period)

	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
