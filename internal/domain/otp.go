package domain

import (
	"strings"
	"time"
)

// DeliveryStatus mirrors the SMS provider's view of a message.
type DeliveryStatus string

const (
	DeliveryPending     DeliveryStatus = "pending"
	DeliveryQueued      DeliveryStatus = "queued"
	DeliverySent        DeliveryStatus = "sent"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryUndelivered DeliveryStatus = "undelivered"
	DeliveryFailed      DeliveryStatus = "failed"
)

// ParseDeliveryStatus normalizes a provider status. Values outside the
// known set are kept verbatim and treated as opaque, non-failure progress.
func ParseDeliveryStatus(raw string) DeliveryStatus {
	return DeliveryStatus(strings.ToLower(strings.TrimSpace(raw)))
}

// IsKnown reports whether s is one of the statuses this service names.
func (s DeliveryStatus) IsKnown() bool {
	switch s {
	case DeliveryPending, DeliveryQueued, DeliverySent, DeliveryDelivered, DeliveryUndelivered, DeliveryFailed:
		return true
	}
	return false
}

// IsFailure reports whether the status means the code never reached the handset.
func (s DeliveryStatus) IsFailure() bool {
	return s == DeliveryFailed || s == DeliveryUndelivered
}

// OTPRecord is the persisted half of an issued code. It never holds the
// plaintext.
type OTPRecord struct {
	ID         OTPID
	SessionID  SessionID
	Hash       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Verified   bool
	VerifiedAt time.Time

	DeliveryMessageID string
	DeliveryStatus    DeliveryStatus
	DeliveryErrorCode string
	DeliveryUpdatedAt time.Time
}

// IsExpired reports whether now is past the code's expiry.
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// DeliveryUpdate carries provider-reported delivery metadata.
type DeliveryUpdate struct {
	MessageID string
	Status    DeliveryStatus
	ErrorCode string
	At        time.Time
}
