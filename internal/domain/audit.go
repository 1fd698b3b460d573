package domain

import "time"

// AuditEventType names a security-relevant transition.
type AuditEventType string

const (
	AuditQRValidated       AuditEventType = "QR_VALIDATED"
	AuditOTPRequested      AuditEventType = "OTP_REQUESTED"
	AuditOTPVerifiedOK     AuditEventType = "OTP_VERIFIED_SUCCESS"
	AuditOTPVerifiedFailed AuditEventType = "OTP_VERIFIED_FAILED"
	AuditSessionLocked     AuditEventType = "SESSION_LOCKED"
	AuditFraudDetected     AuditEventType = "FRAUD_DETECTED"
	AuditRateLimitExceeded AuditEventType = "RATE_LIMIT_EXCEEDED"
	AuditSMSDeliveryStatus AuditEventType = "SMS_DELIVERY_STATUS"
)

// AuditEvent is an immutable, append-only log entry. Details must never
// contain an OTP or its hash.
type AuditEvent struct {
	ID          string
	Type        AuditEventType
	SessionID   string
	PhoneNumber string
	AppID       string
	IPAddress   string
	Details     string
	Success     bool
	Timestamp   time.Time
}
