// Package config loads service configuration with koanf.
// Precedence: environment variables, then compiled defaults. Secrets named
// under secrets.* are resolved from AWS Secrets Manager by the wiring layer.
//
// Env names map to keys by lowercasing and replacing "_" with ".", so
// OTP_TTL sets otp.ttl. Keys never contain underscores for that reason.
// List keys take comma-separated values: KAFKA_BROKERS=a:9092,b:9092.
package config

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/otp-auth/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Log       LogConfig       `koanf:"log"`
	HTTP      HTTPConfig      `koanf:"http"`
	Worker    WorkerConfig    `koanf:"worker"`
	OTP       OTPConfig       `koanf:"otp"`
	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	App       AppConfig       `koanf:"app"`
	JWT       JWTConfig       `koanf:"jwt"`
	SMS       SMSConfig       `koanf:"sms"`
	Debug     DebugConfig     `koanf:"debug"`
	Secrets   SecretsConfig   `koanf:"secrets"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	OTEL OTELConfig `koanf:"otel"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "text"
}

type HTTPConfig struct {
	Port int `koanf:"port"`
	// TrustedProxies lists the CIDRs or addresses of load balancers whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty trusts none.
	TrustedProxies []string `koanf:"trustedproxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: http.trustedproxies entry %q", domain.ErrConfigInvalid, raw)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// WorkerConfig configures the SMS worker binary.
type WorkerConfig struct {
	Port    int `koanf:"port"` // health endpoint
	Retries int `koanf:"retries"`
}

type OTPConfig struct {
	TTL      time.Duration       `koanf:"ttl"`
	Attempts int                 `koanf:"attempts"`
	Pepper   domain.SecretString `koanf:"pepper"`
}

type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// RateLimitConfig sets per-window budgets for each limiter kind.
type RateLimitConfig struct {
	Phone     int           `koanf:"phone"`
	IP        int           `koanf:"ip"`
	SessionIP int           `koanf:"sessionip"`
	Window    time.Duration `koanf:"window"`
}

// AppConfig holds the static application credentials checked by
// validate-identity.
type AppConfig struct {
	ID     string              `koanf:"id"`
	Secret domain.SecretString `koanf:"secret"`
}

type JWTConfig struct {
	Issuer   string        `koanf:"issuer"`
	Audience string        `koanf:"audience"`
	TTL      time.Duration `koanf:"ttl"`
	// KeySource is "ephemeral", "static" (PEM file at KeyFile) or "aws".
	KeySource string `koanf:"keysource"`
	KeyFile   string `koanf:"keyfile"`
	KeyID     string `koanf:"keyid"`
}

type SMSConfig struct {
	Provider string `koanf:"provider"` // "sns" or "log"
	Sender   string `koanf:"sender"`
}

// DebugConfig gates the plaintext OTP read-back route. Never allowed in prod.
type DebugConfig struct {
	ExposeOTP bool `koanf:"exposeotp"`
}

// SecretsConfig names Secrets Manager entries that override the plain
// otp.pepper and app.secret values.
type SecretsConfig struct {
	Pepper string `koanf:"pepper"`
	App    string `koanf:"app"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Timeout  time.Duration `koanf:"timeout"`
	Sessions string        `koanf:"sessions"`
	OTPs     string        `koanf:"otps"`
	Audit    string        `koanf:"audit"`
}

// KafkaConfig holds Kafka configuration.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"` // Required in production
	Topic   string   `koanf:"topic"`
	DLQ     string   `koanf:"dlq"`
	Group   string   `koanf:"group"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint; empty uses AWS defaults
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint string `koanf:"endpoint"` // Empty disables OTLP export
	Service  string `koanf:"service"`
}

// listKeys hold comma-separated values in the environment.
var listKeys = map[string]bool{
	"kafka.brokers":       true,
	"http.trustedproxies": true,
}

func defaults() *Config {
	return &Config{
		Environment: "local",
		Log:         LogConfig{Level: "info", Format: "json"},
		HTTP:        HTTPConfig{Port: 8080},
		Worker:      WorkerConfig{Port: 8081, Retries: 5},
		OTP: OTPConfig{
			TTL:      domain.OTPValidityDuration,
			Attempts: domain.MaxOTPVerifyAttempts,
		},
		Session: SessionConfig{TTL: domain.SessionValidityDuration},
		RateLimit: RateLimitConfig{
			Phone:     domain.OTPRequestRateLimitPerPhone,
			IP:        domain.OTPRequestRateLimitPerIP,
			SessionIP: domain.SessionCreateRateLimitPerIP,
			Window:    domain.RateLimitWindow,
		},
		App: AppConfig{ID: "demo"},
		JWT: JWTConfig{
			Issuer:    "otp-auth",
			Audience:  "otp-auth-clients",
			TTL:       domain.AuthTokenLifetime,
			KeySource: "ephemeral",
			KeyID:     "local-1",
		},
		SMS: SMSConfig{Provider: "log"},

		DynamoDB: DynamoDBConfig{
			Timeout:  domain.DynamoDBTimeout,
			Sessions: "otp_sessions",
			OTPs:     "otp_records",
			Audit:    "otp_audit_log",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "otp-sms",
			DLQ:     "otp-sms-dlq",
			Group:   "otp-sms-worker",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS:  AWSConfig{Region: "us-east-1"},
		OTEL: OTELConfig{Service: "otp-auth"},
	}
}

// Load reads environment variables over the compiled defaults and rejects
// configurations that are unsafe for the environment.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")
	cfg := defaults()

	err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(name), "_", ".")
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// A set list replaces its default outright rather than merging into it.
	if k.Exists("kafka.brokers") {
		cfg.Kafka.Brokers = k.Strings("kafka.brokers")
	}
	if k.Exists("http.trustedproxies") {
		cfg.HTTP.TrustedProxies = k.Strings("http.trustedproxies")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList splits a comma-separated value, trimming each entry. A blank
// value is an empty list; blank entries are kept for validate to reject.
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// isLoopback reports whether a host:port address points at this machine.
func isLoopback(hostport string) bool {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.IsLoopback()
}

func validate(cfg *Config) error {
	for _, b := range cfg.Kafka.Brokers {
		if b == "" {
			return fmt.Errorf("%w: kafka.brokers has an empty entry", domain.ErrConfigInvalid)
		}
	}
	if _, err := cfg.HTTP.TrustedProxyPrefixes(); err != nil {
		return err
	}
	switch cfg.SMS.Provider {
	case "sns", "log":
	default:
		return fmt.Errorf("%w: sms.provider %q", domain.ErrConfigInvalid, cfg.SMS.Provider)
	}
	switch cfg.JWT.KeySource {
	case "ephemeral", "aws":
	case "static":
		if cfg.JWT.KeyFile == "" {
			return fmt.Errorf("%w: jwt.keyfile", domain.ErrConfigRequired)
		}
	default:
		return fmt.Errorf("%w: jwt.keysource %q", domain.ErrConfigInvalid, cfg.JWT.KeySource)
	}
	if cfg.OTP.Attempts <= 0 || cfg.OTP.TTL <= 0 || cfg.Session.TTL <= 0 {
		return fmt.Errorf("%w: otp.attempts, otp.ttl and session.ttl must be positive", domain.ErrConfigInvalid)
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: ratelimit.window must be positive", domain.ErrConfigInvalid)
	}

	if !cfg.IsProd() {
		return nil
	}
	if cfg.OTP.Pepper.IsEmpty() && cfg.Secrets.Pepper == "" {
		return fmt.Errorf("%w: otp.pepper or secrets.pepper", domain.ErrConfigRequired)
	}
	if cfg.App.Secret.IsEmpty() && cfg.Secrets.App == "" {
		return fmt.Errorf("%w: app.secret or secrets.app", domain.ErrConfigRequired)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.brokers", domain.ErrConfigRequired)
	}
	for _, b := range cfg.Kafka.Brokers {
		if isLoopback(b) {
			return fmt.Errorf("%w: kafka.brokers %q points at localhost in prod", domain.ErrConfigInvalid, b)
		}
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}
	if isLoopback(cfg.Redis.Addr) {
		return fmt.Errorf("%w: redis.addr %q points at localhost in prod", domain.ErrConfigInvalid, cfg.Redis.Addr)
	}
	if cfg.Debug.ExposeOTP {
		return fmt.Errorf("%w: debug.exposeotp is not allowed in prod", domain.ErrConfigInvalid)
	}
	if cfg.JWT.KeySource == "ephemeral" {
		return fmt.Errorf("%w: jwt.keysource ephemeral is not allowed in prod", domain.ErrConfigInvalid)
	}
	if cfg.SMS.Provider != "sns" {
		return fmt.Errorf("%w: sms.provider must be sns in prod", domain.ErrConfigInvalid)
	}
	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
