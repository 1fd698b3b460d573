package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/awsenv"
	"github.com/aelexs/otp-auth/internal/config"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/kafka"
	"github.com/aelexs/otp-auth/internal/otpauth/adapter"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
	"github.com/aelexs/otp-auth/internal/otpauth/port"
	"github.com/aelexs/otp-auth/internal/redis"
	"github.com/aelexs/otp-auth/internal/server"
)

// Fallbacks outside prod when no secret is configured. config.Load rejects
// a prod config that would reach them.
const (
	devPepper    = "local-dev-pepper-32-bytes-ok!!"
	devAppSecret = "local-dev-app-secret"
)

// setup is the otp-auth composition root. It creates infrastructure
// clients, adapters and the auth service, and mounts the HTTP routes.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Service, error) {
	clock := domain.RealClock{}

	// 1. Infrastructure clients.
	awsCfg, err := awsenv.Load(ctx, awsenv.Config{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("otp-auth setup: %w", err)
	}
	dynamoClient := dynamo.NewClient(awsCfg)
	secrets := secretsmanager.NewFromConfig(awsCfg)

	redisClient := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
	defer cancel()
	if err := redisClient.Ping(pingCtx); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("otp-auth setup: ping redis: %w", err)
	}

	smsWriter, err := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		WriteTimeout: domain.KafkaProduceTimeout,
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("otp-auth setup: sms writer: %w", err)
	}

	// 2. Secrets and signing keys.
	pepper, appSecret, err := loadSecrets(ctx, cfg, secrets)
	if err != nil {
		return nil, fmt.Errorf("otp-auth setup: %w", err)
	}
	keyStore, err := createKeyStore(ctx, cfg, awsCfg, secrets, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("otp-auth setup: create key store: %w", err)
	}

	// 3. Adapters.
	sessionStore := adapter.NewSessionStore(dynamoClient.DB, cfg.DynamoDB.Sessions)
	otpStore := adapter.NewOTPStore(dynamoClient.DB, cfg.DynamoDB.OTPs)
	auditStore := adapter.NewAuditStore(dynamoClient.DB, cfg.DynamoDB.Audit)
	rateLimiter := adapter.NewRateLimiter(redisClient.RDB, clock)

	// 4. Auth core.
	sessions := app.NewSessionManager(app.SessionManagerConfig{
		Store:       sessionStore,
		Clock:       clock,
		TTL:         cfg.Session.TTL,
		MaxAttempts: cfg.OTP.Attempts,
		Logger:      logger,
	})
	otps := app.NewOTPManager(app.OTPManagerConfig{
		Store:  otpStore,
		Clock:  clock,
		TTL:    cfg.OTP.TTL,
		Pepper: domain.SecretBytes(pepper.Expose()),
	})
	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: keyStore,
		TokenTTL: cfg.JWT.TTL,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Clock:    clock,
	})

	svcCfg := app.AuthServiceConfig{
		Sessions:    sessions,
		OTPs:        otps,
		RateLimiter: rateLimiter,
		Policies: app.RateLimitPolicies{
			Phone:     domain.RateLimitPolicy{Max: cfg.RateLimit.Phone, Window: cfg.RateLimit.Window},
			IP:        domain.RateLimitPolicy{Max: cfg.RateLimit.IP, Window: cfg.RateLimit.Window},
			SessionIP: domain.RateLimitPolicy{Max: cfg.RateLimit.SessionIP, Window: cfg.RateLimit.Window},
		},
		Audit:       app.NewAuditTrail(auditStore, clock, logger),
		Queue:       adapter.NewSMSQueue(smsWriter),
		Minter:      minter,
		Credentials: auth.AppCredentials{AppID: cfg.App.ID, Secret: appSecret},
		Clock:       clock,
		Logger:      logger,
	}
	if cfg.Debug.ExposeOTP && !cfg.IsProd() {
		logger.Warn("debug OTP read-back enabled; plaintext codes are kept in redis")
		svcCfg.DebugVault = adapter.NewDebugOTPVault(redisClient.RDB)
	}
	authSvc := app.NewAuthService(svcCfg)

	handler := port.NewAuthHandler(authSvc, clock, logger)
	logger.InfoContext(ctx, "otp-auth service initialized",
		slog.String("sms_topic", cfg.Kafka.Topic),
		slog.Bool("debug_otp", authSvc.DebugEnabled()),
	)

	return &server.Service{
		Routes: func(r chi.Router) { handler.Routes(r) },
		Close: func(_ context.Context) error {
			authSvc.Wait()
			if err := smsWriter.Close(); err != nil {
				logger.Error("close sms writer", slog.String("error", err.Error()))
			}
			return redisClient.Close()
		},
	}, nil
}

// loadSecrets resolves the OTP pepper and the app secret. Secrets Manager
// names under secrets.* win over inline values.
func loadSecrets(ctx context.Context, cfg *config.Config, sm *secretsmanager.Client) (pepper, appSecret domain.SecretString, err error) {
	pepper, appSecret = cfg.OTP.Pepper, cfg.App.Secret
	if cfg.Secrets.Pepper != "" {
		if pepper, err = adapter.LoadSecret(ctx, sm, cfg.Secrets.Pepper); err != nil {
			return "", "", fmt.Errorf("load pepper: %w", err)
		}
	}
	if cfg.Secrets.App != "" {
		if appSecret, err = adapter.LoadSecret(ctx, sm, cfg.Secrets.App); err != nil {
			return "", "", fmt.Errorf("load app secret: %w", err)
		}
	}
	if pepper.IsEmpty() {
		pepper = devPepper
	}
	if appSecret.IsEmpty() {
		appSecret = devAppSecret
	}
	return pepper, appSecret, nil
}

// createKeyStore returns the key store selected by jwt.keysource.
func createKeyStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config, sm *secretsmanager.Client, clock domain.Clock, logger *slog.Logger) (auth.KeyStore, error) {
	switch cfg.JWT.KeySource {
	case "aws":
		return adapter.NewAWSKeyStore(ctx, adapter.AWSKeyStoreConfig{
			SecretsManager: sm,
			SSM:            ssm.NewFromConfig(awsCfg),
			Clock:          clock,
		})
	case "static":
		pemData, err := os.ReadFile(cfg.JWT.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		return auth.NewStaticKeyStoreFromPEM(pemData, cfg.JWT.KeyID)
	default:
		logger.Info("using ephemeral RSA key", slog.String("key_id", cfg.JWT.KeyID))
		return auth.NewEphemeralKeyStore(cfg.JWT.KeyID)
	}
}
