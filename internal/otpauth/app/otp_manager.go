package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
)

// OTPStore persists OTP records. Records never hold a plaintext code.
type OTPStore interface {
	Create(ctx context.Context, record domain.OTPRecord) error
	// Get is a strongly consistent read by ID. It returns domain.ErrNotFound
	// if absent.
	Get(ctx context.Context, id domain.OTPID) (*domain.OTPRecord, error)
	// MarkVerified sets verified=true only if it is still false, otherwise
	// it returns domain.ErrOTPAlreadyUsed.
	MarkVerified(ctx context.Context, id domain.OTPID, at time.Time) error
	// RecordDelivery merges provider delivery metadata into the record.
	RecordDelivery(ctx context.Context, id domain.OTPID, update domain.DeliveryUpdate) error
	// FindByDeliveryMessageID returns domain.ErrNotFound if no record carries
	// the provider message ID.
	FindByDeliveryMessageID(ctx context.Context, messageID string) (*domain.OTPRecord, error)
}

// IssuedOTP is returned once by Issue. The plaintext exists only here and in
// the delivery message.
type IssuedOTP struct {
	OTP       domain.SecretString
	OTPID     domain.OTPID
	ExpiresAt time.Time
}

// OTPManager issues and verifies codes.
type OTPManager struct {
	store  OTPStore
	clock  domain.Clock
	ttl    time.Duration
	pepper domain.SecretBytes
}

// OTPManagerConfig holds the dependencies for OTPManager.
type OTPManagerConfig struct {
	Store  OTPStore
	Clock  domain.Clock
	TTL    time.Duration
	Pepper domain.SecretBytes
}

// NewOTPManager creates an OTPManager. A zero TTL uses the default.
func NewOTPManager(cfg OTPManagerConfig) *OTPManager {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.OTPValidityDuration
	}
	return &OTPManager{
		store:  cfg.Store,
		clock:  cfg.Clock,
		ttl:    cfg.TTL,
		pepper: cfg.Pepper,
	}
}

// TTL returns how long an issued code stays valid.
func (m *OTPManager) TTL() time.Duration { return m.ttl }

// Issue generates a code, persists its session-keyed hash and returns the
// plaintext to the caller.
func (m *OTPManager) Issue(ctx context.Context, sessionID domain.SessionID) (*IssuedOTP, error) {
	code, err := auth.GenerateOTP()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashOTP(m.pepper.Expose(), sessionID.String(), code)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}

	now := m.clock.Now().UTC()
	record := domain.OTPRecord{
		ID:             domain.GenerateOTPID(),
		SessionID:      sessionID,
		Hash:           hash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		DeliveryStatus: domain.DeliveryPending,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	return &IssuedOTP{
		OTP:       domain.SecretString(code),
		OTPID:     record.ID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Verify checks provided against current, the code the session last
// recorded, and consumes it on a match. It never touches the session's
// attempt counter.
func (m *OTPManager) Verify(ctx context.Context, sessionID domain.SessionID, current domain.OTPID, provided string) (*domain.OTPRecord, error) {
	if current.IsZero() {
		return nil, domain.ErrNoOTPFound
	}
	record, err := m.store.Get(ctx, current)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoOTPFound
	}
	if err != nil {
		return nil, fmt.Errorf("load otp: %w", err)
	}
	if record.SessionID != sessionID {
		return nil, domain.ErrNoOTPFound
	}

	now := m.clock.Now().UTC()
	if record.IsExpired(now) {
		return nil, domain.ErrOTPExpired
	}
	if record.Verified {
		return nil, domain.ErrOTPAlreadyUsed
	}

	ok, err := auth.VerifyOTPHash(m.pepper.Expose(), sessionID.String(), provided, record.Hash)
	if err != nil {
		return nil, fmt.Errorf("verify otp hash: %w", err)
	}
	if !ok {
		return nil, domain.ErrInvalidOTP
	}

	// Conditional on verified=false: a concurrent winner leaves us with
	// ErrOTPAlreadyUsed.
	if err := m.store.MarkVerified(ctx, record.ID, now); err != nil {
		return nil, err
	}
	record.Verified = true
	record.VerifiedAt = now
	return record, nil
}

// ApplyDeliveryUpdate finds the record carrying update.MessageID and merges
// the provider's report into it.
func (m *OTPManager) ApplyDeliveryUpdate(ctx context.Context, update domain.DeliveryUpdate) (*domain.OTPRecord, error) {
	record, err := m.store.FindByDeliveryMessageID(ctx, update.MessageID)
	if err != nil {
		return nil, err
	}
	if err := m.store.RecordDelivery(ctx, record.ID, update); err != nil {
		return nil, fmt.Errorf("record delivery status: %w", err)
	}
	return record, nil
}
