package app

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// ValidateIdentity checks the QR claim and, on success, creates a session
// bound to the phone number.
func (s *AuthService) ValidateIdentity(ctx context.Context, in ValidateIdentityInput) (*ValidateIdentityResult, error) {
	ctx, span := tracer.Start(ctx, "auth.validate_identity")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	// 1. Input checks. Not a security event, so no audit entry.
	if in.AppID == "" || in.AppSecret == "" || in.PhoneNumber == "" {
		return nil, fail(span, fmt.Errorf("appId, appSecret and phoneNumber are required: %w", domain.ErrInvalidInput))
	}
	if len(in.AppID) > domain.MaxAppIDLength || len(in.ClientSessionID) > domain.MaxClientSessionIDLength {
		return nil, fail(span, fmt.Errorf("identifier too long: %w", domain.ErrInvalidInput))
	}
	phone, err := domain.NewPhoneNumber(in.PhoneNumber)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_phone")))
		return nil, fail(span, err)
	}

	// 2. Session creation budget per source IP.
	if err := s.checkLimit(ctx, domain.RateLimitSessionIP, clientKey(in.ClientIP), s.policies.SessionIP,
		domain.AuditEvent{PhoneNumber: phone.String(), AppID: in.AppID, IPAddress: in.ClientIP}); err != nil {
		return nil, fail(span, err)
	}

	// 3. Static application credentials.
	if !s.credentials.Verify(in.AppID, in.AppSecret) {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_credentials")))
		s.audit.Record(ctx, domain.AuditEvent{
			Type:        domain.AuditQRValidated,
			PhoneNumber: phone.String(),
			AppID:       in.AppID,
			IPAddress:   in.ClientIP,
			Details:     "invalid application credentials",
			Success:     false,
		})
		logger.WarnContext(ctx, "auth.identity_rejected", "app_id", in.AppID, "phone", phone.Masked())
		return nil, fail(span, domain.ErrInvalidCredentials)
	}

	// 4. Session bound to the phone.
	session, err := s.sessions.Create(ctx, phone, in.AppID, in.ClientSessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("session_id", session.ID.String()))

	s.audit.Record(ctx, domain.AuditEvent{
		Type:        domain.AuditQRValidated,
		SessionID:   session.ID.String(),
		PhoneNumber: phone.String(),
		AppID:       in.AppID,
		IPAddress:   in.ClientIP,
		Details:     "session created",
		Success:     true,
	})
	logger.InfoContext(ctx, "auth.session_created", "session_id", session.ID.String(), "app_id", in.AppID)

	return &ValidateIdentityResult{
		SessionID: session.ID.String(),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// checkLimit runs one rate-limit check. A rejection is audited and returned
// as *domain.RateLimitError. The template event supplies the audit context.
func (s *AuthService) checkLimit(ctx context.Context, kind domain.RateLimitKind, identifier string, policy domain.RateLimitPolicy, template domain.AuditEvent) error {
	res, err := s.rateLimiter.CheckAndIncrement(ctx, kind, identifier, policy)
	if err != nil {
		return fmt.Errorf("check %s rate limit: %w", kind, err)
	}
	if res.Allowed {
		return nil
	}

	rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", string(kind))))
	template.Type = domain.AuditRateLimitExceeded
	template.Details = fmt.Sprintf("%s rate limit exceeded", kind)
	template.Success = false
	s.audit.Record(ctx, template)
	observability.WithTraceID(ctx, s.logger).WarnContext(ctx, "auth.rate_limited",
		"limit_type", string(kind),
		"session_id", template.SessionID,
		"reset_at", res.ResetAt,
	)
	return &domain.RateLimitError{Kind: kind, ResetAt: res.ResetAt}
}

// clientKey normalizes the source IP used as a counter identifier.
func clientKey(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "unknown"
	}
	return ip
}

// fail tags span with the reason code of err and returns err unchanged.
// Session rejections and failed code checks are answers to the client, not
// faults, so only the rest mark the span as errored.
func fail(span trace.Span, err error) error {
	span.SetAttributes(attribute.String("auth.reason", domain.Reason(err)))
	if domain.IsSessionRejection(err) || domain.IsVerificationFailure(err) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
