package adapter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
)

// snsPublisherStub is a configurable stub for the snsPublisher interface.
type snsPublisherStub struct {
	err  error
	last *sns.PublishInput
}

func (s *snsPublisherStub) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	s.last = params
	if s.err != nil {
		return nil, s.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-msg-1")}, nil
}

func TestSNSSMSProvider_SendOTP_Success(t *testing.T) {
	stub := &snsPublisherStub{}
	provider := NewSNSSMSProvider(stub, "OTPAUTH")

	id, err := provider.SendOTP(context.Background(), "+15551234567", "123456")

	require.NoError(t, err)
	assert.Equal(t, "sns-msg-1", id)
	assert.Equal(t, "+15551234567", *stub.last.PhoneNumber)
	assert.Contains(t, *stub.last.Message, "123456")
	assert.Equal(t, "Transactional", *stub.last.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
	assert.Equal(t, "OTPAUTH", *stub.last.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
}

func TestSNSSMSProvider_SendOTP_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		permanent bool
	}{
		{
			name:      "invalid parameter is permanent",
			err:       &smithy.GenericAPIError{Code: "InvalidParameter", Message: "Invalid parameter: PhoneNumber", Fault: smithy.FaultClient},
			code:      "InvalidParameter",
			permanent: true,
		},
		{
			name:      "opt-out message is permanent",
			err:       &smithy.GenericAPIError{Code: "SomethingElse", Message: "Phone number is opted out", Fault: smithy.FaultClient},
			code:      "SomethingElse",
			permanent: true,
		},
		{
			name: "throttling is transient",
			err:  &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded", Fault: smithy.FaultServer},
			code: "Throttling",
		},
		{
			name: "network error is transient",
			err:  errors.New("dial tcp: i/o timeout"),
			code: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewSNSSMSProvider(&snsPublisherStub{err: tt.err}, "")

			_, err := provider.SendOTP(context.Background(), "+15551234567", "123456")

			var pe *auth.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.permanent, errors.Is(err, domain.ErrPermanentDelivery))
			assert.ErrorIs(t, err, tt.err)
			assert.NotContains(t, err.Error(), "123456")
		})
	}
}

func TestLogSMSProvider_SendOTP(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	provider := NewLogSMSProvider(logger)

	id, err := provider.SendOTP(context.Background(), "+15551234567", "987654")

	require.NoError(t, err)
	assert.NotEmpty(t, id)

	output := buf.String()
	assert.Contains(t, output, "sms.log_only_delivery")
	assert.Contains(t, output, "+1******4567")
	assert.NotContains(t, output, "987654")
	assert.NotContains(t, output, "+15551234567")
}
