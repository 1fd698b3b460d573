package app

import (
	"context"

	"github.com/aelexs/otp-auth/internal/domain"
)

// RateLimiter is a fixed-window counter keyed by (kind, identifier). The
// increment and the window roll happen in one atomic store operation.
// Rejected calls still count.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, kind domain.RateLimitKind, identifier string, policy domain.RateLimitPolicy) (domain.RateLimitResult, error)
}

// RateLimitPolicies groups the budgets enforced by AuthService.
type RateLimitPolicies struct {
	Phone     domain.RateLimitPolicy
	IP        domain.RateLimitPolicy
	SessionIP domain.RateLimitPolicy
}

// DefaultRateLimitPolicies returns the compiled defaults.
func DefaultRateLimitPolicies() RateLimitPolicies {
	return RateLimitPolicies{
		Phone:     domain.RateLimitPolicy{Max: domain.OTPRequestRateLimitPerPhone, Window: domain.RateLimitWindow},
		IP:        domain.RateLimitPolicy{Max: domain.OTPRequestRateLimitPerIP, Window: domain.RateLimitWindow},
		SessionIP: domain.RateLimitPolicy{Max: domain.SessionCreateRateLimitPerIP, Window: domain.RateLimitWindow},
	}
}
