package domain

import "time"

// RateLimitKind partitions counters so the same identifier can carry
// independent budgets.
type RateLimitKind string

const (
	RateLimitPhone     RateLimitKind = "phone"
	RateLimitIP        RateLimitKind = "ip"
	RateLimitSessionIP RateLimitKind = "session_ip"
)

// RateLimitPolicy is a fixed-window budget.
type RateLimitPolicy struct {
	Max    int
	Window time.Duration
}

// RateLimitResult is the outcome of one check-and-increment.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
