package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
	redisclient "github.com/aelexs/otp-auth/internal/redis"
)

// debugOTPPrefix is the key prefix for plaintext codes kept for local
// testing: debug_otp:{session_id}.
const debugOTPPrefix = "debug_otp:"

// Compile-time check: DebugOTPVault satisfies app.DebugOTPVault.
var _ app.DebugOTPVault = (*DebugOTPVault)(nil)

// DebugOTPVault keeps the latest plaintext code per session in Redis.
// Only wired when debug read-back is enabled outside production.
type DebugOTPVault struct {
	cmd redisclient.Cmdable
}

// NewDebugOTPVault creates a DebugOTPVault that uses cmd for Redis operations.
func NewDebugOTPVault(cmd redisclient.Cmdable) *DebugOTPVault {
	return &DebugOTPVault{cmd: cmd}
}

// Put stores otp for sessionID, replacing any earlier code. The key lives
// no longer than the code itself.
func (v *DebugOTPVault) Put(ctx context.Context, sessionID domain.SessionID, otp domain.SecretString, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.debug_otp.put")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	if err := v.cmd.Set(ctx, debugOTPPrefix+sessionID.String(), otp.Expose(), ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("store debug otp: %w", err)
	}
	return nil
}

// Get returns the stored code, or domain.ErrNotFound once it has expired.
func (v *DebugOTPVault) Get(ctx context.Context, sessionID domain.SessionID) (domain.SecretString, error) {
	ctx, span := tracer.Start(ctx, "redis.debug_otp.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "GET"),
	)

	val, err := v.cmd.Get(ctx, debugOTPPrefix+sessionID.String()).Result()
	if redisclient.IsNil(err) {
		return "", fmt.Errorf("debug otp: %w", domain.ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("read debug otp: %w", err)
	}
	return domain.SecretString(val), nil
}
