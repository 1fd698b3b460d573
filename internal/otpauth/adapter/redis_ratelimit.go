package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
	redisclient "github.com/aelexs/otp-auth/internal/redis"
)

// rateLimitKeyPrefix namespaces counters: ratelimit:{kind}:{identifier}.
const rateLimitKeyPrefix = "ratelimit:"

// rateLimitScript increments a fixed-window counter and records when the
// window opened. ARGV[1] is the caller's clock in milliseconds and ARGV[2]
// the window length in milliseconds. Rejected calls still increment.
var rateLimitScript = redisclient.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
local start = redis.call('HGET', KEYS[1], 'start')
if count == 1 or not start then
  start = ARGV[1]
  redis.call('HSET', KEYS[1], 'start', start)
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {count, tonumber(start)}
`)

// Compile-time check: RateLimiter satisfies app.RateLimiter.
var _ app.RateLimiter = (*RateLimiter)(nil)

// RateLimiter implements fixed-window counters backed by Redis.
// Redis errors are returned to the caller, which denies the request.
type RateLimiter struct {
	cmd   redisclient.Cmdable
	clock domain.Clock
}

// NewRateLimiter creates a RateLimiter that uses cmd for Redis operations.
func NewRateLimiter(cmd redisclient.Cmdable, clock domain.Clock) *RateLimiter {
	return &RateLimiter{cmd: cmd, clock: clock}
}

// CheckAndIncrement counts one request for identifier under kind and
// reports whether it fits in policy.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, kind domain.RateLimitKind, identifier string, policy domain.RateLimitPolicy) (domain.RateLimitResult, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVALSHA"),
		attribute.String("ratelimit.kind", string(kind)),
	)

	key := rateLimitKeyPrefix + string(kind) + ":" + identifier
	now := domain.NowUTCMillis(r.clock)
	window := policy.Window.Milliseconds()

	raw, err := rateLimitScript.Run(ctx, r.cmd, []string{key}, now, window).Int64Slice()
	if err == nil && len(raw) != 2 {
		err = fmt.Errorf("unexpected script reply of length %d", len(raw))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.RateLimitResult{}, fmt.Errorf("rate limit check %s: %w", kind, err)
	}

	count, start := int(raw[0]), raw[1]
	remaining := policy.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:   count <= policy.Max,
		Remaining: remaining,
		ResetAt:   domain.FromMillis(start + window),
	}, nil
}
