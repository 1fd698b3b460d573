package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SMS provider. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time interface satisfaction checks.
var _ auth.SMSProvider = (*SNSSMSProvider)(nil)
var _ auth.SMSProvider = (*LogSMSProvider)(nil)

// permanentSNSCodes are SNS API error codes that no retry will fix.
var permanentSNSCodes = map[string]bool{
	"InvalidParameter":      true,
	"InvalidParameterValue": true,
	"AuthorizationError":    true,
	"OptedOut":              true,
	"EndpointDisabled":      true,
}

// SNSSMSProvider delivers OTP codes via Amazon SNS SMS.
type SNSSMSProvider struct {
	client   snsPublisher
	senderID string
}

// NewSNSSMSProvider creates an SNSSMSProvider backed by the given SNS
// client. senderID is optional.
func NewSNSSMSProvider(client snsPublisher, senderID string) *SNSSMSProvider {
	return &SNSSMSProvider{client: client, senderID: senderID}
}

// SendOTP publishes a transactional SMS and returns the SNS message ID.
func (p *SNSSMSProvider) SendOTP(ctx context.Context, phone string, otp domain.SecretString) (string, error) {
	ctx, span := tracer.Start(ctx, "sns.send_otp")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.system", "sns"))

	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(p.senderID)}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(fmt.Sprintf("Your verification code is: %s", otp.Expose())),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", spanErr(span, classifySNSError(err))
	}
	return aws.ToString(out.MessageId), nil
}

// classifySNSError wraps err in an auth.ProviderError. Failures that name a
// bad number, bad credentials or an opt-out are permanent.
func classifySNSError(err error) error {
	pe := &auth.ProviderError{Code: "unknown", Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
		pe.Permanent = permanentSNSCodes[apiErr.ErrorCode()] || auth.IsPermanentProviderMessage(apiErr.ErrorMessage())
	} else {
		pe.Permanent = auth.IsPermanentProviderMessage(err.Error())
	}
	return pe
}

// LogSMSProvider stands in for a real SMS provider in local development.
// It logs the send with a masked number and a synthetic message ID. The
// code itself never reaches the log; use the debug read-back instead.
type LogSMSProvider struct {
	logger *slog.Logger
}

// NewLogSMSProvider creates a LogSMSProvider that writes to logger.
func NewLogSMSProvider(logger *slog.Logger) *LogSMSProvider {
	return &LogSMSProvider{logger: logger}
}

// SendOTP logs the delivery. It never sends a real SMS.
func (p *LogSMSProvider) SendOTP(ctx context.Context, phone string, _ domain.SecretString) (string, error) {
	messageID := "log-" + uuid.NewString()
	p.logger.InfoContext(ctx, "sms.log_only_delivery",
		slog.String("phone", domain.MaskPhone(phone)),
		slog.String("message_id", messageID),
	)
	return messageID, nil
}
