package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Input errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	ErrInvalidOTPFormat   = errors.New("OTP must be 6 digits")

	// Identity errors
	ErrInvalidCredentials = errors.New("invalid application credentials")

	// Session validation failures
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionExpired         = errors.New("session has expired")
	ErrSessionLocked          = errors.New("session is locked")
	ErrSessionAlreadyVerified = errors.New("session already verified")

	// ErrStateConflict is returned by stores when a conditional status
	// transition is rejected because the session moved concurrently.
	ErrStateConflict = errors.New("session state changed concurrently")

	// OTP validation failures
	ErrNoOTPFound     = errors.New("no OTP found for session")
	ErrOTPExpired     = errors.New("OTP has expired")
	ErrOTPAlreadyUsed = errors.New("OTP already used")
	ErrInvalidOTP     = errors.New("invalid OTP")

	// Security violations
	ErrFraudDetected       = errors.New("phone number mismatch detected")
	ErrMaxAttemptsExceeded = errors.New("maximum verification attempts exceeded")

	// Operational errors
	ErrRateLimited = errors.New("rate limit exceeded")

	// Delivery errors
	ErrPermanentDelivery = errors.New("permanent delivery failure")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// RateLimitError reports a rejected rate-limit check. It unwraps to
// ErrRateLimited so callers can match it with errors.Is.
type RateLimitError struct {
	Kind    RateLimitKind
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Kind, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AttemptsError decorates a failed verification with the attempts left
// before the session locks.
type AttemptsError struct {
	Reason    error
	Remaining int
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", e.Reason, e.Remaining)
}

func (e *AttemptsError) Unwrap() error { return e.Reason }

// reasonCodes is ordered; the first match wins. Security violations come
// first because they may wrap the verification failure that caused them.
var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrFraudDetected, "FRAUD_DETECTED"},
	{ErrMaxAttemptsExceeded, "MAX_ATTEMPTS_EXCEEDED"},
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrSessionExpired, "SESSION_EXPIRED"},
	{ErrSessionLocked, "SESSION_LOCKED"},
	{ErrSessionAlreadyVerified, "SESSION_ALREADY_VERIFIED"},
	{ErrNoOTPFound, "NO_OTP_FOUND"},
	{ErrOTPExpired, "OTP_EXPIRED"},
	{ErrOTPAlreadyUsed, "OTP_ALREADY_USED"},
	{ErrInvalidOTP, "INVALID_OTP"},
	{ErrRateLimited, "RATE_LIMIT_EXCEEDED"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrInvalidPhoneNumber, "INVALID_PHONE_NUMBER"},
	{ErrInvalidOTPFormat, "INVALID_OTP_FORMAT"},
	{ErrEmptyID, "INVALID_INPUT"},
	{ErrInvalidID, "INVALID_INPUT"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrNotFound, "NOT_FOUND"},
}

// Reason returns the wire reason code for err, or "INTERNAL_ERROR" when err
// is not a known domain condition.
func Reason(err error) string {
	for _, r := range reasonCodes {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "INTERNAL_ERROR"
}

// IsVerificationFailure reports whether err is an OTP check outcome that
// counts against the session's attempt budget.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrInvalidOTP) ||
		errors.Is(err, ErrNoOTPFound) ||
		errors.Is(err, ErrOTPExpired) ||
		errors.Is(err, ErrOTPAlreadyUsed)
}

// IsSessionRejection reports whether err is one of the session validation
// failures.
func IsSessionRejection(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionLocked) ||
		errors.Is(err, ErrSessionAlreadyVerified)
}
