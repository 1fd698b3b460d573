package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/awsenv"
	"github.com/aelexs/otp-auth/internal/config"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/kafka"
	"github.com/aelexs/otp-auth/internal/otpauth/adapter"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
	"github.com/aelexs/otp-auth/internal/server"
)

// setup wires the Kafka consumer to the SMS worker. The only HTTP route is
// the runner's /healthz.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Service, error) {
	clock := domain.RealClock{}

	awsCfg, err := awsenv.Load(ctx, awsenv.Config{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
		Timeout:  domain.SMSSendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sms-worker setup: %w", err)
	}
	dynamoClient := dynamo.NewClient(awsCfg)

	reader, err := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.Group,
		MaxWait: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("sms-worker setup: reader: %w", err)
	}
	dlq, err := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.DLQ,
		WriteTimeout: domain.KafkaProduceTimeout,
	})
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("sms-worker setup: dlq writer: %w", err)
	}

	worker := app.NewSMSWorker(app.SMSWorkerConfig{
		Provider: createSMSProvider(cfg, sns.NewFromConfig(awsCfg), logger),
		OTPStore: adapter.NewOTPStore(dynamoClient.DB, cfg.DynamoDB.OTPs),
		Clock:    clock,
		Logger:   logger,
	})
	consumer := adapter.NewSMSConsumer(adapter.SMSConsumerConfig{
		Reader:     reader,
		DLQ:        dlq,
		Handler:    worker,
		Logger:     logger,
		MaxRetries: uint64(max(cfg.Worker.Retries, 1)),
	})

	logger.InfoContext(ctx, "sms worker initialized",
		slog.String("topic", cfg.Kafka.Topic),
		slog.String("group", cfg.Kafka.Group),
		slog.String("provider", cfg.SMS.Provider),
	)

	return &server.Service{
		Background: []func(context.Context) error{consumer.Run},
		Close: func(context.Context) error {
			return errors.Join(reader.Close(), dlq.Close())
		},
	}, nil
}

// createSMSProvider returns the provider selected by sms.provider.
func createSMSProvider(cfg *config.Config, client *sns.Client, logger *slog.Logger) auth.SMSProvider {
	if cfg.SMS.Provider == "sns" {
		return adapter.NewSNSSMSProvider(client, cfg.SMS.Sender)
	}
	logger.Info("using log-only SMS provider")
	return adapter.NewLogSMSProvider(logger)
}
