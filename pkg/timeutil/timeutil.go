package timeutil

import (
	"sync"
	"time"
)

var (
	mu  sync.RWMutex
	now = time.Now
)

// Now returns the current time in UTC from the process clock.
func Now() time.Time {
	mu.RLock()
	f := now
	mu.RUnlock()
	return f().UTC()
}

// SetClock replaces the clock used by Now and returns a func that restores
// the previous one. Tests use it to move time without sleeping.
func SetClock(f func() time.Time) (restore func()) {
	mu.Lock()
	prev := now
	now = f
	mu.Unlock()
	return func() {
		mu.Lock()
		now = prev
		mu.Unlock()
	}
}

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
