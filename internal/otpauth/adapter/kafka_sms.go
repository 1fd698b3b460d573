package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/otp-auth/internal/kafka"
	"github.com/aelexs/otp-auth/internal/observability"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

const (
	// dlqReasonHeader carries why a message was dead-lettered.
	dlqReasonHeader = "x-dlq-reason"
	// redactedOTP replaces the code in dead-lettered payloads.
	redactedOTP = "[REDACTED]"
)

// Compile-time check: SMSQueue satisfies app.SMSQueue.
var _ app.SMSQueue = (*SMSQueue)(nil)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SMSQueue publishes delivery messages to Kafka keyed by session ID.
type SMSQueue struct {
	writer kafkaWriter
}

// NewSMSQueue creates an SMSQueue over writer.
func NewSMSQueue(writer kafkaWriter) *SMSQueue {
	return &SMSQueue{writer: writer}
}

// EnqueueSMS publishes msg. The call returns once the brokers acknowledge.
func (q *SMSQueue) EnqueueSMS(ctx context.Context, msg app.SMSMessage) error {
	ctx, span := tracer.Start(ctx, "kafka.sms.enqueue")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.operation", "publish"),
	)

	body, err := json.Marshal(msg)
	if err != nil {
		return spanErr(span, fmt.Errorf("sms queue: marshal: %w", err))
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.SessionID), Value: body}); err != nil {
		return spanErr(span, fmt.Errorf("sms queue: publish: %w", err))
	}
	return nil
}

// SMSHandler processes one delivery message. A non-nil error asks for a
// retry. *app.SMSWorker satisfies it.
type SMSHandler interface {
	Handle(ctx context.Context, msg app.SMSMessage) error
}

// SMSConsumerConfig holds the dependencies for SMSConsumer.
type SMSConsumerConfig struct {
	Reader  kafkaReader
	DLQ     kafkaWriter
	Handler SMSHandler
	Logger  *slog.Logger
	// MaxRetries bounds redelivery attempts per message before it is
	// dead-lettered.
	MaxRetries uint64
	// BaseBackoff and MaxBackoff shape the Fibonacci backoff between tries.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// SMSConsumer reads delivery messages, retries failed handling with
// backoff and dead-letters what still fails. Offsets are committed only
// after a message is handled or dead-lettered.
type SMSConsumer struct {
	reader      kafkaReader
	dlq         kafkaWriter
	handler     SMSHandler
	logger      *slog.Logger
	maxRetries  uint64
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewSMSConsumer creates an SMSConsumer, defaulting zero retry settings.
func NewSMSConsumer(cfg SMSConsumerConfig) *SMSConsumer {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &SMSConsumer{
		reader:      cfg.Reader,
		dlq:         cfg.DLQ,
		handler:     cfg.Handler,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and
// the first fetch, dead-letter or commit error otherwise.
func (c *SMSConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sms consumer: fetch: %w", err)
		}

		if err := c.process(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sms consumer: commit: %w", err)
		}
	}
}

// process handles m, dead-lettering it if it cannot be decoded or keeps
// failing. A returned error means m must not be committed.
func (c *SMSConsumer) process(ctx context.Context, m kafka.Message) error {
	ctx, span := tracer.Start(ctx, "kafka.sms.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.operation", "process"),
		attribute.Int64("messaging.kafka.offset", m.Offset),
	)
	logger := observability.WithTraceID(ctx, c.logger).With(
		"partition", m.Partition,
		"offset", m.Offset,
	)

	var msg app.SMSMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		logger.ErrorContext(ctx, "sms.consumer_decode_failed", "error", err)
		return c.deadLetter(ctx, m, nil, "decode: "+err.Error())
	}

	tries := 0
	backoff := retry.WithMaxRetries(c.maxRetries,
		retry.WithCappedDuration(c.maxBackoff, retry.NewFibonacci(c.baseBackoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tries++
		if err := c.handler.Handle(ctx, msg); err != nil {
			logger.WarnContext(ctx, "sms.consumer_retry", "msg", msg, "try", tries, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return spanErr(span, err)
	}

	spanErr(span, err)
	logger.ErrorContext(ctx, "sms.consumer_dead_lettered", "msg", msg, "tries", tries, "error", err)
	return c.deadLetter(ctx, m, &msg, "handler failed after "+strconv.Itoa(tries)+" tries: "+err.Error())
}

// deadLetter publishes m to the DLQ with the code redacted. A payload that
// could not be decoded is dropped, keeping only key and headers.
func (c *SMSConsumer) deadLetter(ctx context.Context, m kafka.Message, msg *app.SMSMessage, reason string) error {
	var value []byte
	if msg != nil {
		kept := *msg
		kept.OTP = redactedOTP
		body, err := json.Marshal(kept)
		if err != nil {
			return fmt.Errorf("sms consumer: dead-letter: marshal: %w", err)
		}
		value = body
	}
	dead := kafka.Message{
		Key:   m.Key,
		Value: value,
		Headers: append(append([]kafka.Header{}, m.Headers...),
			kafka.Header{Key: dlqReasonHeader, Value: []byte(reason)}),
	}
	if err := c.dlq.WriteMessages(ctx, dead); err != nil {
		return fmt.Errorf("sms consumer: dead-letter: %w", err)
	}
	return nil
}
