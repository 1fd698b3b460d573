package domain

import "time"

// Compiled defaults. Every value here can be overridden through config.
const (
	// OTP lifecycle
	OTPLength            = 6
	OTPValidityDuration  = 5 * time.Minute
	MaxOTPVerifyAttempts = 3

	// Session lifecycle
	SessionValidityDuration = 10 * time.Minute

	// Rate limiting
	OTPRequestRateLimitPerPhone = 5
	OTPRequestRateLimitPerIP    = 20
	SessionCreateRateLimitPerIP = 30
	RateLimitWindow             = time.Hour

	// Token configuration
	AuthTokenLifetime = time.Hour

	// Audit retention before the store evicts entries
	AuditRetention = 90 * 24 * time.Hour

	// Timeout contracts
	DynamoDBTimeout     = 5 * time.Second
	KafkaProduceTimeout = 10 * time.Second
	RedisTimeout        = 2 * time.Second
	SMSSendTimeout      = 10 * time.Second

	GracefulShutdownTimeout = 30 * time.Second

	// Shutdown phases, in order. Their sum stays under GracefulShutdownTimeout.
	ShutdownDrainDelay  = 2 * time.Second
	ShutdownHTTPTimeout = 15 * time.Second
	ShutdownOTELTimeout = 5 * time.Second

	MaxAppIDLength           = 128
	MaxClientSessionIDLength = 128
)
