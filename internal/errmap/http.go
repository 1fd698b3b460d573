package errmap

import (
	"errors"
	"net/http"

	"github.com/aelexs/otp-auth/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMappings is ordered: first match wins (via errors.Is). Security
// violations come first because they wrap the failure that triggered them.
// Codes come from domain.Reason so the wire vocabulary has one source.
// Messages are fixed per entry; the wrapped error text never reaches a client.
var httpMappings = []struct {
	err        error
	statusCode int
	message    string
}{
	{domain.ErrFraudDetected, http.StatusForbidden, "verification rejected"},
	{domain.ErrMaxAttemptsExceeded, http.StatusForbidden, "too many verification attempts"},

	{domain.ErrSessionNotFound, http.StatusNotFound, "session not found"},
	{domain.ErrSessionExpired, http.StatusForbidden, "session has expired"},
	{domain.ErrSessionLocked, http.StatusForbidden, "session is locked"},
	{domain.ErrSessionAlreadyVerified, http.StatusForbidden, "session already verified"},

	// 401
	{domain.ErrNoOTPFound, http.StatusUnauthorized, "no code has been issued for this session"},
	{domain.ErrOTPExpired, http.StatusUnauthorized, "code has expired"},
	{domain.ErrOTPAlreadyUsed, http.StatusUnauthorized, "code already used"},
	{domain.ErrInvalidOTP, http.StatusUnauthorized, "invalid code"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid application credentials"},

	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate limit exceeded"},

	// 400
	{domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "invalid phone number"},
	{domain.ErrInvalidOTPFormat, http.StatusBadRequest, "code must be 6 digits"},
	{domain.ErrEmptyID, http.StatusBadRequest, "invalid input"},
	{domain.ErrInvalidID, http.StatusBadRequest, "invalid input"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid input"},

	{domain.ErrNotFound, http.StatusNotFound, "resource not found"},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return HTTPError{StatusCode: m.statusCode, Code: domain.Reason(err), Message: m.message}
		}
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "internal error"}
}
