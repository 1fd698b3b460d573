package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

// Compile-time check: AuditStore satisfies app.AuditLog.
var _ app.AuditLog = (*AuditStore)(nil)

type auditDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
}

// auditItem is the DynamoDB item shape for the audit table. Items are
// never updated.
type auditItem struct {
	EventID     string `dynamodbav:"event_id"`
	EventType   string `dynamodbav:"event_type"`
	SessionID   string `dynamodbav:"session_id,omitempty"`
	PhoneNumber string `dynamodbav:"phone_number,omitempty"`
	AppID       string `dynamodbav:"app_id,omitempty"`
	IPAddress   string `dynamodbav:"ip_address,omitempty"`
	Details     string `dynamodbav:"details,omitempty"`
	Success     bool   `dynamodbav:"success"`
	Timestamp   int64  `dynamodbav:"timestamp"`
	TTL         int64  `dynamodbav:"ttl"`
}

// AuditStore appends audit events to DynamoDB.
type AuditStore struct {
	db        auditDynamoDB
	tableName string
}

// NewAuditStore creates an AuditStore backed by the given DynamoDB client.
func NewAuditStore(db auditDynamoDB, tableName string) *AuditStore {
	return &AuditStore{db: db, tableName: tableName}
}

// Append writes event. The item expires after domain.AuditRetention.
func (s *AuditStore) Append(ctx context.Context, event domain.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "dynamo.audit.append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
		attribute.String("audit.event_type", string(event.Type)),
	)

	av, err := dynamo.MarshalMap(auditItem{
		EventID:     event.ID,
		EventType:   string(event.Type),
		SessionID:   event.SessionID,
		PhoneNumber: event.PhoneNumber,
		AppID:       event.AppID,
		IPAddress:   event.IPAddress,
		Details:     event.Details,
		Success:     event.Success,
		Timestamp:   domain.ToMillis(event.Timestamp),
		TTL:         domain.ExpiryEpoch(event.Timestamp.Add(domain.AuditRetention)),
	})
	if err != nil {
		return spanErr(span, fmt.Errorf("audit store: marshal event: %w", err))
	}

	if _, err := s.db.PutItem(ctx, &dynamo.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		return spanErr(span, fmt.Errorf("audit store: append: %w", err))
	}
	return nil
}
