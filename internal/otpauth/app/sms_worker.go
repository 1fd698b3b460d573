package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// SMSWorker delivers queued codes through the SMS provider.
//
// Handle returns nil when the message is done with, either delivered or
// dropped for a permanent reason, and an error when the queue should
// redeliver it.
type SMSWorker struct {
	provider auth.SMSProvider
	otpStore OTPStore
	clock    domain.Clock
	logger   *slog.Logger
}

// SMSWorkerConfig holds the dependencies for SMSWorker.
type SMSWorkerConfig struct {
	Provider auth.SMSProvider
	OTPStore OTPStore
	Clock    domain.Clock
	Logger   *slog.Logger
}

// NewSMSWorker creates an SMSWorker.
func NewSMSWorker(cfg SMSWorkerConfig) *SMSWorker {
	return &SMSWorker{
		provider: cfg.Provider,
		otpStore: cfg.OTPStore,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Handle processes one delivery message.
func (w *SMSWorker) Handle(ctx context.Context, msg SMSMessage) error {
	ctx, span := tracer.Start(ctx, "sms.handle")
	defer span.End()

	logger := observability.WithTraceID(ctx, w.logger).With("msg", msg)

	otpID, err := domain.NewOTPID(msg.OTPID)
	if err != nil || msg.PhoneNumber == "" || msg.OTP.IsEmpty() {
		smsDeliveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "malformed")))
		logger.ErrorContext(ctx, "sms.message_malformed", "error", err)
		return nil
	}

	// Redelivered or stale messages are not sent again.
	record, err := w.otpStore.Get(ctx, otpID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.WarnContext(ctx, "sms.otp_record_missing")
		return nil
	case err != nil:
		return fail(span, fmt.Errorf("load otp record: %w", err))
	}
	if skip := w.skipReason(record); skip != "" {
		smsDeliveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))
		logger.InfoContext(ctx, "sms.send_skipped", "reason", skip)
		return nil
	}

	messageID, err := w.provider.SendOTP(ctx, msg.PhoneNumber, msg.OTP)
	if err != nil {
		if errors.Is(err, domain.ErrPermanentDelivery) {
			w.recordPermanentFailure(ctx, logger, otpID, err)
			return nil
		}
		smsDeliveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "transient_error")))
		logger.WarnContext(ctx, "sms.send_retryable", "error", err)
		return fail(span, fmt.Errorf("send sms: %w", err))
	}

	update := domain.DeliveryUpdate{
		MessageID: messageID,
		Status:    domain.DeliveryQueued,
		At:        w.clock.Now().UTC(),
	}
	// The SMS is out; a failed bookkeeping write must not trigger a resend.
	if err := w.otpStore.RecordDelivery(ctx, otpID, update); err != nil {
		logger.ErrorContext(ctx, "sms.record_delivery_failed", "error", err, "message_id", messageID)
	}

	smsDeliveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "sent")))
	logger.InfoContext(ctx, "sms.sent", "message_id", messageID)
	return nil
}

func (w *SMSWorker) skipReason(record *domain.OTPRecord) string {
	switch {
	case record.DeliveryMessageID != "":
		return "already sent"
	case record.Verified:
		return "otp already verified"
	case record.IsExpired(w.clock.Now().UTC()):
		return "otp expired"
	case record.DeliveryStatus == domain.DeliveryFailed:
		return "permanent failure recorded"
	}
	return ""
}

func (w *SMSWorker) recordPermanentFailure(ctx context.Context, logger *slog.Logger, otpID domain.OTPID, sendErr error) {
	code := "permanent"
	var pe *auth.ProviderError
	if errors.As(sendErr, &pe) && pe.Code != "" {
		code = pe.Code
	}

	smsDeliveryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "permanent_error")))
	logger.ErrorContext(ctx, "sms.send_permanent_failure", "error", sendErr, "error_code", code)

	update := domain.DeliveryUpdate{
		Status:    domain.DeliveryFailed,
		ErrorCode: code,
		At:        w.clock.Now().UTC(),
	}
	if err := w.otpStore.RecordDelivery(ctx, otpID, update); err != nil {
		logger.ErrorContext(ctx, "sms.record_delivery_failed", "error", err)
	}
}
