// Package domaintest holds test doubles shared by the domain, app, adapter
// and port tests.
package domaintest

import (
	"sync"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
)

var _ domain.Clock = (*FakeClock)(nil)

// FakeClock only moves when a test moves it. Session expiry, OTP expiry
// and rate-limit windows are all driven through one shared instance.
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time, so a test
// can step past an expiry and assert against the result in one line.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps to t, forwards or backwards.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
