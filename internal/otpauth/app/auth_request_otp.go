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

// RequestOTP issues a code for a valid session and hands it to the SMS
// queue. A phone number that differs from the session's binding locks the
// session.
func (s *AuthService) RequestOTP(ctx context.Context, in RequestOTPInput) (*RequestOTPResult, error) {
	ctx, span := tracer.Start(ctx, "auth.request_otp")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Input checks.
	sessionID, err := domain.NewSessionID(in.SessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	phone, err := domain.NewPhoneNumber(in.PhoneNumber)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_phone")))
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("session_id", sessionID.String()))

	// 2. Session must be open and unexpired.
	session, err := s.sessions.Validate(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}

	// 3. Phone binding. A mismatch is fraud: lock, audit, terminal failure.
	if !s.sessions.ValidatePhoneBinding(session, phone) {
		if err := s.sessions.Lock(ctx, sessionID, domain.LockReasonPhoneMismatch); err != nil && !errors.Is(err, domain.ErrStateConflict) {
			return nil, fail(span, err)
		}
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "phone_mismatch")))
		s.audit.Record(ctx, domain.AuditEvent{
			Type:        domain.AuditFraudDetected,
			SessionID:   sessionID.String(),
			PhoneNumber: phone.String(),
			AppID:       session.AppID,
			IPAddress:   in.ClientIP,
			Details:     fmt.Sprintf("phone number mismatch, session bound to %s", session.PhoneNumber.Masked()),
			Success:     false,
		})
		logger.WarnContext(ctx, "auth.fraud_detected",
			"session_id", sessionID.String(),
			"bound_phone", session.PhoneNumber.Masked(),
			"provided_phone", phone.Masked(),
		)
		return nil, fail(span, domain.ErrFraudDetected)
	}

	// 4. Both limiters before anything is generated.
	template := domain.AuditEvent{
		SessionID:   sessionID.String(),
		PhoneNumber: session.PhoneNumber.String(),
		AppID:       session.AppID,
		IPAddress:   in.ClientIP,
	}
	if err := s.checkLimit(ctx, domain.RateLimitPhone, auth.HashPhone(session.PhoneNumber.String()), s.policies.Phone, template); err != nil {
		return nil, fail(span, err)
	}
	if err := s.checkLimit(ctx, domain.RateLimitIP, clientKey(in.ClientIP), s.policies.IP, template); err != nil {
		return nil, fail(span, err)
	}

	// 5. Issue and record the transition.
	issued, err := s.otps.Issue(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	if err := s.sessions.MarkOTPGenerated(ctx, sessionID, issued.OTPID); err != nil {
		return nil, fail(span, err)
	}

	// 6. Hand off to the SMS worker.
	msg := SMSMessage{
		PhoneNumber: session.PhoneNumber.String(),
		OTP:         issued.OTP,
		SessionID:   sessionID.String(),
		OTPID:       issued.OTPID.String(),
	}
	if err := s.queue.EnqueueSMS(ctx, msg); err != nil {
		return nil, fail(span, fmt.Errorf("enqueue sms: %w", err))
	}

	if s.debugVault != nil {
		if err := s.debugVault.Put(ctx, sessionID, issued.OTP, s.otps.TTL()); err != nil {
			logger.WarnContext(ctx, "auth.debug_otp_store_failed", "session_id", sessionID.String(), "error", err)
		}
	}

	otpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	s.audit.Record(ctx, domain.AuditEvent{
		Type:        domain.AuditOTPRequested,
		SessionID:   sessionID.String(),
		PhoneNumber: session.PhoneNumber.String(),
		AppID:       session.AppID,
		IPAddress:   in.ClientIP,
		Details:     "otp " + issued.OTPID.String() + " queued for delivery",
		Success:     true,
	})
	logger.InfoContext(ctx, "auth.otp_requested",
		"session_id", sessionID.String(),
		"otp_id", issued.OTPID.String(),
	)

	return &RequestOTPResult{
		SessionID: sessionID.String(),
		OTPID:     issued.OTPID.String(),
		ExpiresAt: issued.ExpiresAt,
	}, nil
}
