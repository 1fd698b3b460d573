// Package domain contains the OTP authentication entities, their state
// machine rules and the sentinel errors shared by every layer.
// No infrastructure dependencies are allowed here.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionID is a value object representing a unique session identifier.
// Always valid in memory. Construct with NewSessionID.
type SessionID struct {
	value string
}

// NewSessionID creates a SessionID from a raw string, validating it is a valid UUID.
func NewSessionID(raw string) (SessionID, error) {
	if raw == "" {
		return SessionID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return SessionID{}, fmt.Errorf("invalid session ID %q: %w", raw, ErrInvalidID)
	}
	return SessionID{value: raw}, nil
}

// MustSessionID creates a SessionID, panicking on invalid input. Use only in tests.
func MustSessionID(raw string) SessionID {
	id, err := NewSessionID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateSessionID creates a new random SessionID.
func GenerateSessionID() SessionID {
	return SessionID{value: uuid.NewString()}
}

func (id SessionID) String() string { return id.value }
func (id SessionID) IsZero() bool   { return id.value == "" }

// OTPID identifies a single issued OTP record.
type OTPID struct {
	value string
}

// NewOTPID creates an OTPID from a raw string, validating it is a valid UUID.
func NewOTPID(raw string) (OTPID, error) {
	if raw == "" {
		return OTPID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return OTPID{}, fmt.Errorf("invalid OTP ID %q: %w", raw, ErrInvalidID)
	}
	return OTPID{value: raw}, nil
}

// MustOTPID creates an OTPID, panicking on invalid input. Use only in tests.
func MustOTPID(raw string) OTPID {
	id, err := NewOTPID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateOTPID creates a new random OTPID.
func GenerateOTPID() OTPID {
	return OTPID{value: uuid.NewString()}
}

func (id OTPID) String() string { return id.value }
func (id OTPID) IsZero() bool   { return id.value == "" }

// GenerateAuditID returns a new random audit entry identifier.
func GenerateAuditID() string {
	return uuid.NewString()
}
