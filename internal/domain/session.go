package domain

import (
	"fmt"
	"time"
)

// SessionStatus is a state in the session lifecycle.
//
//	[none] --create--> ACTIVE
//	ACTIVE --otp issued--> OTP_GENERATED
//	ACTIVE|OTP_GENERATED --verify ok--> VERIFIED
//	ACTIVE|OTP_GENERATED --expiry--> EXPIRED
//	ACTIVE|OTP_GENERATED --fraud or max attempts--> LOCKED
type SessionStatus string

const (
	SessionActive       SessionStatus = "ACTIVE"
	SessionOTPGenerated SessionStatus = "OTP_GENERATED"
	SessionVerified     SessionStatus = "VERIFIED"
	SessionLocked       SessionStatus = "LOCKED"
	SessionExpired      SessionStatus = "EXPIRED"
)

var allStatuses = []SessionStatus{SessionActive, SessionOTPGenerated, SessionVerified, SessionLocked, SessionExpired}

// OpenStatuses are the statuses a session may still be used from.
var OpenStatuses = SourceStatuses(SessionVerified)

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	for _, st := range allStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// SourceStatuses lists every status CanTransition allows to move to `to`.
// Stores use it as the condition of a status write.
func SourceStatuses(to SessionStatus) []SessionStatus {
	var from []SessionStatus
	for _, st := range allStatuses {
		if CanTransition(st, to) {
			from = append(from, st)
		}
	}
	return from
}

// IsTerminal reports whether no further transition may leave s.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionVerified || s == SessionLocked || s == SessionExpired
}

// CanTransition reports whether the state machine allows from -> to.
// OTP_GENERATED -> OTP_GENERATED is allowed so a user can request a new code.
func CanTransition(from, to SessionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case SessionOTPGenerated, SessionVerified, SessionExpired, SessionLocked:
		return from == SessionActive || from == SessionOTPGenerated
	}
	return false
}

// Lock reasons recorded on the session.
const (
	LockReasonPhoneMismatch = "phone number mismatch detected"
	LockReasonMaxAttempts   = "maximum verification attempts exceeded"
)

// Session is a phone-bound authentication attempt.
type Session struct {
	ID              SessionID
	PhoneNumber     PhoneNumber
	AppID           string
	ClientSessionID string
	Status          SessionStatus
	Attempts        int
	// CurrentOTPID is the only code the session accepts. Issuing a new code
	// replaces it, which retires the previous one.
	CurrentOTPID    OTPID
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastActivityAt  time.Time
	LockReason      string
	LockedAt        time.Time
}

// IsExpired reports whether now is past the session's expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Check returns the validation failure for the session's current state, or
// nil if the session may be used. Expiry is checked first so an open session
// past its deadline reports SESSION_EXPIRED.
func (s *Session) Check(now time.Time) error {
	switch s.Status {
	case SessionLocked:
		return ErrSessionLocked
	case SessionVerified:
		return ErrSessionAlreadyVerified
	case SessionExpired:
		return ErrSessionExpired
	case SessionActive, SessionOTPGenerated:
		if s.IsExpired(now) {
			return ErrSessionExpired
		}
		return nil
	default:
		return fmt.Errorf("session %s has unknown status %q: %w", s.ID, s.Status, ErrInvalidInput)
	}
}
