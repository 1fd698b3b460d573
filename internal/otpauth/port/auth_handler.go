package port

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

// authService is the narrow, consumer-defined view of *app.AuthService the
// handlers need.
type authService interface {
	ValidateIdentity(ctx context.Context, in app.ValidateIdentityInput) (*app.ValidateIdentityResult, error)
	RequestOTP(ctx context.Context, in app.RequestOTPInput) (*app.RequestOTPResult, error)
	VerifyOTP(ctx context.Context, in app.VerifyOTPInput) (*app.VerifyOTPResult, error)
	IngestDeliveryStatus(ctx context.Context, update domain.DeliveryUpdate) error
	DebugOTP(ctx context.Context, sessionID string) (domain.SecretString, error)
	DebugEnabled() bool
}

// AuthHandler serves the authentication flow over HTTP.
type AuthHandler struct {
	svc       authService
	validator *requestValidator
	responder
}

// NewAuthHandler creates an AuthHandler backed by svc.
func NewAuthHandler(svc authService, clock domain.Clock, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:       svc,
		validator: newRequestValidator(),
		responder: responder{clock: clock, logger: logger},
	}
}

// Routes mounts the handler's endpoints. The debug read-back route exists
// only when the service was built with a debug vault.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/validate-identity", h.ValidateIdentity)
		r.Post("/request-otp", h.RequestOTP)
		r.Post("/verify-otp", h.VerifyOTP)
	})
	r.Post("/v1/webhooks/sms-delivery", h.DeliveryStatus)
	if h.svc.DebugEnabled() {
		r.Get("/v1/debug/sessions/{sessionID}/otp", h.DebugOTP)
	}
}

type validateIdentityRequest struct {
	AppID           string `json:"appId" validate:"required,max=64"`
	AppSecret       string `json:"appSecret" validate:"required,max=256"`
	PhoneNumber     string `json:"phoneNumber" validate:"required,max=32"`
	ClientSessionID string `json:"clientSessionId" validate:"max=128"`
}

type validateIdentityResponse struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ValidateIdentity checks application credentials and opens a session.
func (h *AuthHandler) ValidateIdentity(w http.ResponseWriter, r *http.Request) {
	var req validateIdentityRequest
	if err := h.validator.decodeJSON(w, r, &req); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	result, err := h.svc.ValidateIdentity(r.Context(), app.ValidateIdentityInput{
		AppID:           req.AppID,
		AppSecret:       req.AppSecret,
		PhoneNumber:     req.PhoneNumber,
		ClientSessionID: req.ClientSessionID,
		ClientIP:        clientIP(r),
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeData(w, validateIdentityResponse{SessionID: result.SessionID, ExpiresAt: result.ExpiresAt})
}

type requestOTPRequest struct {
	SessionID   string `json:"sessionId" validate:"required,max=64"`
	PhoneNumber string `json:"phoneNumber" validate:"required,max=32"`
}

type requestOTPResponse struct {
	SessionID string    `json:"sessionId"`
	OTPID     string    `json:"otpId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestOTP issues a code for the session and queues it for SMS delivery.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := h.validator.decodeJSON(w, r, &req); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	result, err := h.svc.RequestOTP(r.Context(), app.RequestOTPInput{
		SessionID:   req.SessionID,
		PhoneNumber: req.PhoneNumber,
		ClientIP:    clientIP(r),
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeData(w, requestOTPResponse{SessionID: result.SessionID, OTPID: result.OTPID, ExpiresAt: result.ExpiresAt})
}

type verifyOTPRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`
	OTP       string `json:"otp" validate:"required,max=16"`
}

type verifyOTPResponse struct {
	SessionID      string    `json:"sessionId"`
	AuthToken      string    `json:"authToken"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
	VerifiedAt     time.Time `json:"verifiedAt"`
}

// VerifyOTP checks a code and returns the auth token on success.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := h.validator.decodeJSON(w, r, &req); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	result, err := h.svc.VerifyOTP(r.Context(), app.VerifyOTPInput{
		SessionID: req.SessionID,
		OTP:       req.OTP,
		ClientIP:  clientIP(r),
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeData(w, verifyOTPResponse{
		SessionID:      result.SessionID,
		AuthToken:      result.AuthToken,
		TokenExpiresAt: result.TokenExpiresAt,
		VerifiedAt:     result.VerifiedAt,
	})
}

type debugOTPResponse struct {
	SessionID string `json:"sessionId"`
	OTP       string `json:"otp"`
}

// DebugOTP returns the plaintext of the session's latest code.
func (h *AuthHandler) DebugOTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	otp, err := h.svc.DebugOTP(r.Context(), sessionID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeData(w, debugOTPResponse{SessionID: sessionID, OTP: otp.Expose()})
}

// clientIP reads RemoteAddr, which the server rewrites from forwarding
// headers only for trusted proxies, and strips the port if present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
