package domain

import "time"

// Clock provides the current time. The domain defines the interface; callers
// inject RealClock in production and a fake in tests.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// NowUTCMillis returns the current wall clock as UTC milliseconds since epoch.
// All persisted timestamps use this representation.
func NowUTCMillis(c Clock) int64 {
	return c.Now().UTC().UnixMilli()
}

// FromMillis converts epoch milliseconds to time.Time.
// The returned time has no monotonic reading (safe for serialization/comparison).
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ToMillis converts t to epoch milliseconds, mapping the zero time to 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// ExpiryEpoch returns the epoch-seconds value stored in TTL attributes so the
// store can evict the item once t has passed.
func ExpiryEpoch(t time.Time) int64 {
	return t.UTC().Unix()
}

var _ Clock = RealClock{}
