package app

import (
	"context"
	"fmt"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// DebugOTP returns the plaintext of the session's latest code. It only works
// when a DebugOTPVault is configured, which config forbids in production.
func (s *AuthService) DebugOTP(ctx context.Context, rawSessionID string) (domain.SecretString, error) {
	if s.debugVault == nil {
		return "", fmt.Errorf("debug otp read-back disabled: %w", domain.ErrNotFound)
	}
	sessionID, err := domain.NewSessionID(rawSessionID)
	if err != nil {
		return "", err
	}
	otp, err := s.debugVault.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "auth.debug_otp_read", "session_id", sessionID.String())
	return otp, nil
}
