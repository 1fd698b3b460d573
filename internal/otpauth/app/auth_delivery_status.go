package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// IngestDeliveryStatus applies a provider delivery report to the matching
// OTP record. Session and OTP validity are never affected: a failed
// delivery leaves an issued code usable.
func (s *AuthService) IngestDeliveryStatus(ctx context.Context, update domain.DeliveryUpdate) error {
	ctx, span := tracer.Start(ctx, "auth.ingest_delivery_status")
	defer span.End()

	if update.MessageID == "" || update.Status == "" {
		return fail(span, fmt.Errorf("messageId and status are required: %w", domain.ErrInvalidInput))
	}
	if update.At.IsZero() {
		update.At = s.clock.Now().UTC()
	}

	record, err := s.otps.ApplyDeliveryUpdate(ctx, update)
	if err != nil {
		return fail(span, err)
	}

	outcome := string(update.Status)
	if !update.Status.IsKnown() {
		outcome = "other"
	}
	smsDeliveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	details := "delivery status " + string(update.Status)
	if update.ErrorCode != "" {
		details += " error " + update.ErrorCode
	}
	s.audit.Record(ctx, domain.AuditEvent{
		Type:      domain.AuditSMSDeliveryStatus,
		SessionID: record.SessionID.String(),
		Details:   details,
		Success:   !update.Status.IsFailure(),
	})

	logger := observability.WithTraceID(ctx, s.logger)
	if update.Status.IsFailure() {
		logger.WarnContext(ctx, "sms.delivery_failed",
			"session_id", record.SessionID.String(),
			"otp_id", record.ID.String(),
			"message_id", update.MessageID,
			"error_code", update.ErrorCode,
		)
	} else {
		logger.InfoContext(ctx, "sms.delivery_status",
			"otp_id", record.ID.String(),
			"status", string(update.Status),
		)
	}
	return nil
}
