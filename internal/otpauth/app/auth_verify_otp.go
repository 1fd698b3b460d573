package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// VerifyOTP checks the submitted code. Every failure costs one attempt and
// the failure that reaches the budget locks the session in the same call.
// Success moves the session to VERIFIED and returns an auth token.
func (s *AuthService) VerifyOTP(ctx context.Context, in VerifyOTPInput) (*VerifyOTPResult, error) {
	ctx, span := tracer.Start(ctx, "auth.verify_otp")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Input checks.
	sessionID, err := domain.NewSessionID(in.SessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	if !auth.ValidOTPFormat(in.OTP) {
		return nil, fail(span, domain.ErrInvalidOTPFormat)
	}
	span.SetAttributes(attribute.String("session_id", sessionID.String()))

	// 2. Session must be open and unexpired.
	session, err := s.sessions.Validate(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}

	event := domain.AuditEvent{
		SessionID:   sessionID.String(),
		PhoneNumber: session.PhoneNumber.String(),
		AppID:       session.AppID,
		IPAddress:   in.ClientIP,
	}

	// 3. Charge the attempt before looking at the code. The reservation is
	// conditional on the budget, so concurrent verifies cannot overdraw it.
	reserved, err := s.sessions.ReserveAttempt(ctx, sessionID)
	if errors.Is(err, domain.ErrMaxAttemptsExceeded) {
		if err := s.lockForAttempts(ctx, sessionID, event); err != nil {
			return nil, fail(span, err)
		}
		return nil, fail(span, domain.ErrMaxAttemptsExceeded)
	}
	if err != nil {
		return nil, fail(span, err)
	}

	// 4. Check the session's current code.
	if _, err := s.otps.Verify(ctx, sessionID, reserved.CurrentOTPID, in.OTP); err != nil {
		if !domain.IsVerificationFailure(err) {
			s.releaseAttempt(ctx, sessionID)
			return nil, fail(span, err)
		}
		return nil, fail(span, s.recordFailedAttempt(ctx, sessionID, reserved.Attempts, err, event))
	}

	// 5. Success gives the reserved attempt back.
	if err := s.sessions.MarkVerified(ctx, sessionID, reserved.CurrentOTPID); err != nil {
		if domain.IsVerificationFailure(err) {
			return nil, fail(span, s.recordFailedAttempt(ctx, sessionID, reserved.Attempts, err, event))
		}
		return nil, fail(span, err)
	}
	minted, err := s.minter.MintAuthToken(auth.TokenSubject{
		SessionID: sessionID,
		Phone:     session.PhoneNumber,
		AppID:     session.AppID,
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("mint auth token: %w", err))
	}

	otpVerificationTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "success")))
	event.Type = domain.AuditOTPVerifiedOK
	event.Details = "otp verified"
	event.Success = true
	s.audit.Record(ctx, event)
	logger.InfoContext(ctx, "auth.otp_verified", "session_id", sessionID.String())

	return &VerifyOTPResult{
		SessionID:      sessionID.String(),
		AuthToken:      minted.Token,
		TokenExpiresAt: minted.ExpiresAt,
		VerifiedAt:     minted.IssuedAt,
	}, nil
}

// recordFailedAttempt reports a failure whose attempt was already reserved
// and locks the session if that exhausted the budget. It returns the error
// for the caller.
func (s *AuthService) recordFailedAttempt(ctx context.Context, id domain.SessionID, attempts int, reason error, event domain.AuditEvent) error {
	otpVerificationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", "failure"),
		attribute.String("reason", domain.Reason(reason)),
	))
	failed := event
	failed.Type = domain.AuditOTPVerifiedFailed
	failed.Details = fmt.Sprintf("%s (attempt %d)", domain.Reason(reason), attempts)
	failed.Success = false
	s.audit.Record(ctx, failed)

	if s.sessions.IsMaxAttemptsExceeded(attempts) {
		if err := s.lockForAttempts(ctx, id, event); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrMaxAttemptsExceeded, reason)
	}

	observability.WithTraceID(ctx, s.logger).InfoContext(ctx, "auth.otp_verify_failed",
		"session_id", id.String(),
		"reason", domain.Reason(reason),
		"attempts", attempts,
	)
	return &domain.AttemptsError{Reason: reason, Remaining: s.sessions.RemainingAttempts(attempts)}
}

// releaseAttempt refunds a reservation after an operational failure. A
// refund that fails only leaves the attempt charged.
func (s *AuthService) releaseAttempt(ctx context.Context, id domain.SessionID) {
	if err := s.sessions.ReleaseAttempt(ctx, id); err != nil {
		observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "auth.attempt_release_failed",
			"session_id", id.String(), "error", err)
	}
}

func (s *AuthService) lockForAttempts(ctx context.Context, id domain.SessionID, event domain.AuditEvent) error {
	if err := s.sessions.Lock(ctx, id, domain.LockReasonMaxAttempts); err != nil {
		// A concurrent verify may have verified the session first.
		if errors.Is(err, domain.ErrStateConflict) {
			return domain.ErrMaxAttemptsExceeded
		}
		return err
	}
	event.Type = domain.AuditSessionLocked
	event.Details = fmt.Sprintf("locked after %d failed attempts", s.sessions.MaxAttempts())
	event.Success = false
	s.audit.Record(ctx, event)
	return nil
}
