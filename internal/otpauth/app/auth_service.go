package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
)

var tracer = otel.Tracer("otpauth/app")

var (
	sessionCreatedTotal  metric.Int64Counter
	otpRequestsTotal     metric.Int64Counter
	otpVerificationTotal metric.Int64Counter
	rateLimitsTotal      metric.Int64Counter
	sessionLockedTotal   metric.Int64Counter
	authFailuresTotal    metric.Int64Counter
	smsDeliveryTotal     metric.Int64Counter
)

func init() {
	m := otel.Meter("otpauth/app")

	sessionCreatedTotal, _ = m.Int64Counter("auth_session_created_total",
		metric.WithDescription("Total sessions created"))
	otpRequestsTotal, _ = m.Int64Counter("auth_otp_requests_total",
		metric.WithDescription("Total OTP requests"))
	otpVerificationTotal, _ = m.Int64Counter("auth_otp_verifications_total",
		metric.WithDescription("Total OTP verifications by result"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total rate limit hits"))
	sessionLockedTotal, _ = m.Int64Counter("security_sessions_locked_total",
		metric.WithDescription("Total sessions locked by reason"))
	authFailuresTotal, _ = m.Int64Counter("security_auth_failures_total",
		metric.WithDescription("Total authentication failures"))
	smsDeliveryTotal, _ = m.Int64Counter("sms_delivery_total",
		metric.WithDescription("SMS delivery outcomes"))
}

// SMSMessage is the delivery hand-off for the SMS worker. OTP is the only
// place the plaintext code travels after issuance.
type SMSMessage struct {
	PhoneNumber string              `json:"phoneNumber"`
	OTP         domain.SecretString `json:"otp"`
	SessionID   string              `json:"sessionId"`
	OTPID       string              `json:"otpId"`
}

// LogValue keeps the code and the full number out of logs.
func (m SMSMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session_id", m.SessionID),
		slog.String("otp_id", m.OTPID),
		slog.String("phone", domain.MaskPhone(m.PhoneNumber)),
	)
}

// SMSQueue hands messages to the asynchronous SMS worker. Delivery is at
// least once.
type SMSQueue interface {
	EnqueueSMS(ctx context.Context, msg SMSMessage) error
}

// DebugOTPVault holds plaintext codes for read-back in non-production
// environments only.
type DebugOTPVault interface {
	Put(ctx context.Context, sessionID domain.SessionID, otp domain.SecretString, ttl time.Duration) error
	// Get returns domain.ErrNotFound if nothing is stored.
	Get(ctx context.Context, sessionID domain.SessionID) (domain.SecretString, error)
}

// ValidateIdentityInput is the QR identity claim.
type ValidateIdentityInput struct {
	AppID           string
	AppSecret       string
	PhoneNumber     string
	ClientSessionID string
	ClientIP        string
}

// ValidateIdentityResult is returned when a session has been created.
type ValidateIdentityResult struct {
	SessionID string
	ExpiresAt time.Time
}

// RequestOTPInput asks for a code on an existing session.
type RequestOTPInput struct {
	SessionID   string
	PhoneNumber string
	ClientIP    string
}

// RequestOTPResult is returned by RequestOTP on success.
type RequestOTPResult struct {
	SessionID string
	OTPID     string
	ExpiresAt time.Time
}

// VerifyOTPInput submits a code for the session.
type VerifyOTPInput struct {
	SessionID string
	OTP       string
	ClientIP  string
}

// VerifyOTPResult is returned by VerifyOTP on success.
type VerifyOTPResult struct {
	SessionID      string
	AuthToken      string
	TokenExpiresAt time.Time
	VerifiedAt     time.Time
}

// AuthServiceConfig holds the dependencies for AuthService.
type AuthServiceConfig struct {
	Sessions    *SessionManager
	OTPs        *OTPManager
	RateLimiter RateLimiter
	Policies    RateLimitPolicies
	Audit       *AuditTrail
	Queue       SMSQueue
	Minter      *auth.Minter
	Credentials auth.AppCredentials
	// DebugVault enables debug OTP read-back. Leave nil in production.
	DebugVault DebugOTPVault
	Clock      domain.Clock
	Logger     *slog.Logger
}

// AuthService orchestrates the QR-to-token protocol: validate identity,
// request OTP, verify OTP. It also ingests delivery status reports.
type AuthService struct {
	sessions    *SessionManager
	otps        *OTPManager
	rateLimiter RateLimiter
	policies    RateLimitPolicies
	audit       *AuditTrail
	queue       SMSQueue
	minter      *auth.Minter
	credentials auth.AppCredentials
	debugVault  DebugOTPVault
	clock       domain.Clock
	logger      *slog.Logger
}

// NewAuthService creates a new AuthService with the given dependencies.
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	return &AuthService{
		sessions:    cfg.Sessions,
		otps:        cfg.OTPs,
		rateLimiter: cfg.RateLimiter,
		policies:    cfg.Policies,
		audit:       cfg.Audit,
		queue:       cfg.Queue,
		minter:      cfg.Minter,
		credentials: cfg.Credentials,
		debugVault:  cfg.DebugVault,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

// DebugEnabled reports whether plaintext read-back is available.
func (s *AuthService) DebugEnabled() bool {
	return s.debugVault != nil
}

// Wait blocks until all background audit writes complete. The wiring layer
// calls it during graceful shutdown.
func (s *AuthService) Wait() {
	s.audit.Wait()
}
