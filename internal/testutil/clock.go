package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for tests.
//
// Components take a `func() time.Time`; pass clock.Now. The clock never
// moves on its own, so interval boundaries in tests are exact.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock reading ms milliseconds since the Unix epoch.
func NewClock(ms int64) *Clock {
	return &Clock{now: time.UnixMilli(ms).UTC()}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Millis returns the current time in milliseconds since the Unix epoch.
func (c *Clock) Millis() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock forward by d and returns the new time in
// milliseconds.
func (c *Clock) Advance(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now.UnixMilli()
}

// Set moves the clock to ms milliseconds since the Unix epoch.
func (c *Clock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMilli(ms).UTC()
}
