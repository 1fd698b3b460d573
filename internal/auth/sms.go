package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/aelexs/otp-auth/internal/domain"
)

// SMSProvider abstracts OTP delivery for vendor independence.
type SMSProvider interface {
	// SendOTP hands the code to the provider and returns the provider's
	// message ID. A nil error means the provider accepted the message, not
	// that the handset received it. Errors wrapping
	// domain.ErrPermanentDelivery must not be retried.
	SendOTP(ctx context.Context, phone string, otp domain.SecretString) (string, error)
}

// ProviderError is a classified SMS provider failure.
type ProviderError struct {
	Code      string
	Permanent bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("sms provider %s error %s: %v", kind, e.Code, e.Err)
}

// Unwrap exposes domain.ErrPermanentDelivery for permanent failures in
// addition to the underlying cause.
func (e *ProviderError) Unwrap() []error {
	if e.Permanent {
		return []error{domain.ErrPermanentDelivery, e.Err}
	}
	return []error{e.Err}
}

// permanentMessages are provider error fragments that no retry can fix.
var permanentMessages = []string{
	"invalid phone number",
	"unverified number",
	"invalid credentials",
	"account suspended",
	"invalid to",
	"invalid from",
	"not a valid phone number",
	"opted out",
}

// IsPermanentProviderMessage reports whether a provider error message names
// a condition that no retry can fix.
func IsPermanentProviderMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, frag := range permanentMessages {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
