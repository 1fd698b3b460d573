package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// SessionStore persists sessions. Every mutating call is a single
// conditional write in the store.
type SessionStore interface {
	// Create fails with domain.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, session domain.Session) error
	// Get returns domain.ErrSessionNotFound if absent.
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	// UpdateStatus moves the session to `to` only if its status is one of
	// `from`, otherwise it returns domain.ErrStateConflict.
	UpdateStatus(ctx context.Context, id domain.SessionID, to domain.SessionStatus, from []domain.SessionStatus, at time.Time) error
	// Lock sets LOCKED with reason and timestamp only if the session is open.
	// It returns domain.ErrStateConflict otherwise, so the first reason wins.
	Lock(ctx context.Context, id domain.SessionID, reason string, at time.Time) error
	// SetCurrentOTP moves an open session to OTP_GENERATED with otpID as its
	// only accepted code, or returns domain.ErrStateConflict.
	SetCurrentOTP(ctx context.Context, id domain.SessionID, otpID domain.OTPID, at time.Time) error
	// ReserveAttempt adds one attempt only if the session is open with fewer
	// than maxAttempts, and returns the updated session. Otherwise it
	// returns domain.ErrStateConflict.
	ReserveAttempt(ctx context.Context, id domain.SessionID, maxAttempts int, at time.Time) (*domain.Session, error)
	// ReleaseAttempt gives back one reserved attempt.
	ReleaseAttempt(ctx context.Context, id domain.SessionID, at time.Time) error
	// CompleteVerification sets VERIFIED and gives back the reserved attempt
	// only if the session is open and otpID is still current. Otherwise it
	// returns domain.ErrStateConflict.
	CompleteVerification(ctx context.Context, id domain.SessionID, otpID domain.OTPID, at time.Time) error
}

// SessionManager owns the session lifecycle.
type SessionManager struct {
	store       SessionStore
	clock       domain.Clock
	ttl         time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// SessionManagerConfig holds the dependencies for SessionManager.
type SessionManagerConfig struct {
	Store       SessionStore
	Clock       domain.Clock
	TTL         time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

// NewSessionManager creates a SessionManager, applying defaults for zero
// TTL and attempt budget.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.SessionValidityDuration
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.MaxOTPVerifyAttempts
	}
	return &SessionManager{
		store:       cfg.Store,
		clock:       cfg.Clock,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
	}
}

// Create mints an ACTIVE session bound to phone.
func (m *SessionManager) Create(ctx context.Context, phone domain.PhoneNumber, appID, clientSessionID string) (*domain.Session, error) {
	now := m.clock.Now().UTC()
	session := domain.Session{
		ID:              domain.GenerateSessionID(),
		PhoneNumber:     phone,
		AppID:           appID,
		ClientSessionID: clientSessionID,
		Status:          domain.SessionActive,
		Attempts:        0,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
		LastActivityAt:  now,
	}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sessionCreatedTotal.Add(ctx, 1)
	return &session, nil
}

// Validate loads the session and checks it may still be used. A session
// found past its expiry is moved to EXPIRED before SESSION_EXPIRED is
// returned.
func (m *SessionManager) Validate(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	checkErr := session.Check(now)
	if checkErr == nil {
		return session, nil
	}

	if errors.Is(checkErr, domain.ErrSessionExpired) && domain.CanTransition(session.Status, domain.SessionExpired) {
		err := m.store.UpdateStatus(ctx, id, domain.SessionExpired, domain.SourceStatuses(domain.SessionExpired), now)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStateConflict):
			// Another request already moved it; report what it is now.
			return nil, m.currentReason(ctx, id)
		default:
			return nil, fmt.Errorf("expire session: %w", err)
		}
	}
	return nil, checkErr
}

// ValidatePhoneBinding is an exact match against the bound number. A
// mismatch is a fraud signal, never a reason to update the session.
func (m *SessionManager) ValidatePhoneBinding(session *domain.Session, provided domain.PhoneNumber) bool {
	return session.PhoneNumber.Equal(provided)
}

// Lock moves an open session to LOCKED. Locking an already locked session
// succeeds and keeps the original reason.
func (m *SessionManager) Lock(ctx context.Context, id domain.SessionID, reason string) error {
	now := m.clock.Now().UTC()
	err := m.store.Lock(ctx, id, reason, now)
	if err == nil {
		sessionLockedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		observability.WithTraceID(ctx, m.logger).WarnContext(ctx, "auth.session_locked",
			"session_id", id.String(), "reason", reason)
		return nil
	}
	if !errors.Is(err, domain.ErrStateConflict) {
		return fmt.Errorf("lock session: %w", err)
	}

	current, getErr := m.store.Get(ctx, id)
	if getErr != nil {
		return fmt.Errorf("lock session: %w", getErr)
	}
	if current.Status == domain.SessionLocked {
		return nil
	}
	return fmt.Errorf("lock session in status %s: %w", current.Status, domain.ErrStateConflict)
}

// ReserveAttempt charges one verification attempt before the code is
// compared and returns the session as written. A session whose budget is
// already spent reports domain.ErrMaxAttemptsExceeded; a session that is no
// longer open reports its validation failure.
func (m *SessionManager) ReserveAttempt(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	session, err := m.store.ReserveAttempt(ctx, id, m.maxAttempts, m.clock.Now().UTC())
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrStateConflict) {
		return nil, fmt.Errorf("reserve attempt: %w", err)
	}

	current, getErr := m.store.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if reason := current.Check(m.clock.Now().UTC()); reason != nil {
		return nil, reason
	}
	if m.IsMaxAttemptsExceeded(current.Attempts) {
		return nil, domain.ErrMaxAttemptsExceeded
	}
	return nil, domain.ErrStateConflict
}

// ReleaseAttempt gives back an attempt reserved by a verify that failed for
// an operational reason.
func (m *SessionManager) ReleaseAttempt(ctx context.Context, id domain.SessionID) error {
	if err := m.store.ReleaseAttempt(ctx, id, m.clock.Now().UTC()); err != nil {
		return fmt.Errorf("release attempt: %w", err)
	}
	return nil
}

// MaxAttempts returns the verification budget of a session.
func (m *SessionManager) MaxAttempts() int { return m.maxAttempts }

// IsMaxAttemptsExceeded reports whether attempts has reached the budget.
func (m *SessionManager) IsMaxAttemptsExceeded(attempts int) bool {
	return attempts >= m.maxAttempts
}

// RemainingAttempts returns how many failures are left before locking.
func (m *SessionManager) RemainingAttempts(attempts int) int {
	if r := m.maxAttempts - attempts; r > 0 {
		return r
	}
	return 0
}

// MarkOTPGenerated records otpID as the code the session accepts. Any code
// issued before it stops verifying.
func (m *SessionManager) MarkOTPGenerated(ctx context.Context, id domain.SessionID, otpID domain.OTPID) error {
	err := m.store.SetCurrentOTP(ctx, id, otpID, m.clock.Now().UTC())
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStateConflict) {
		return m.currentReason(ctx, id)
	}
	return fmt.Errorf("mark otp generated: %w", err)
}

// MarkVerified moves the session to its VERIFIED terminal state, provided
// otpID is still its current code. A session that stayed open but moved on
// to a newer code reports domain.ErrInvalidOTP.
func (m *SessionManager) MarkVerified(ctx context.Context, id domain.SessionID, otpID domain.OTPID) error {
	err := m.store.CompleteVerification(ctx, id, otpID, m.clock.Now().UTC())
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrStateConflict) {
		return fmt.Errorf("mark verified: %w", err)
	}
	if reason := m.currentReason(ctx, id); !errors.Is(reason, domain.ErrStateConflict) {
		return reason
	}
	return domain.ErrInvalidOTP
}

// currentReason re-reads a session that lost a conditional write and
// returns the validation failure describing its new state.
func (m *SessionManager) currentReason(ctx context.Context, id domain.SessionID) error {
	session, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if reason := session.Check(m.clock.Now().UTC()); reason != nil {
		return reason
	}
	return domain.ErrStateConflict
}
