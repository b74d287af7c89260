package utils

import (
	"sync"
	"time"

	"github.com/benmeehan/mip-agent/pkg/signing"
)

// Clock is the agent's notion of wall time: the system clock plus an offset set
// from cloud timestamp downlinks.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time
}

// NewClock returns a clock that follows the system clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the corrected time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

// SetTime makes Now report t at this instant.
func (c *Clock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.now())
}

// Reset drops any offset and trusts the system clock again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

// Offset returns the current correction.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Timestamp formats Now as a 13-digit millisecond timestamp.
func (c *Clock) Timestamp() (string, error) {
	return signing.FormatMillis(c.Now()), nil
}
