package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

const (
	// otpDeliveryIndex is a sparse index keyed by delivery_message_id.
	otpDeliveryIndex = "delivery_message_id-index"
	// otpRetention keeps records past expiry for delivery reports and audit.
	otpRetention = 24 * time.Hour
)

// Compile-time check: OTPStore satisfies app.OTPStore.
var _ app.OTPStore = (*OTPStore)(nil)

// otpDynamoDB is a narrow, consumer-defined interface for DynamoDB operations
// required by the OTP store. Only the methods this adapter calls are declared.
// The *dynamodb.Client satisfies this interface (optFns is variadic so callers
// may omit it), and test stubs implement it directly.
type otpDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// otpItem is the DynamoDB item shape for the OTP table. Only the keyed
// hash is stored, never the code.
type otpItem struct {
	OTPID             string `dynamodbav:"otp_id"`
	SessionID         string `dynamodbav:"session_id"`
	Hash              string `dynamodbav:"otp_hash"`
	CreatedAt         int64  `dynamodbav:"created_at"`
	ExpiresAt         int64  `dynamodbav:"expires_at"`
	Verified          bool   `dynamodbav:"verified"`
	VerifiedAt        int64  `dynamodbav:"verified_at,omitempty"`
	DeliveryMessageID string `dynamodbav:"delivery_message_id,omitempty"`
	DeliveryStatus    string `dynamodbav:"delivery_status,omitempty"`
	DeliveryErrorCode string `dynamodbav:"delivery_error_code,omitempty"`
	DeliveryUpdatedAt int64  `dynamodbav:"delivery_updated_at,omitempty"`
	TTL               int64  `dynamodbav:"ttl"`
}

func toOTPItem(r domain.OTPRecord) otpItem {
	return otpItem{
		OTPID:             r.ID.String(),
		SessionID:         r.SessionID.String(),
		Hash:              r.Hash,
		CreatedAt:         domain.ToMillis(r.CreatedAt),
		ExpiresAt:         domain.ToMillis(r.ExpiresAt),
		Verified:          r.Verified,
		VerifiedAt:        domain.ToMillis(r.VerifiedAt),
		DeliveryMessageID: r.DeliveryMessageID,
		DeliveryStatus:    string(r.DeliveryStatus),
		DeliveryErrorCode: r.DeliveryErrorCode,
		DeliveryUpdatedAt: domain.ToMillis(r.DeliveryUpdatedAt),
		TTL:               domain.ExpiryEpoch(r.ExpiresAt.Add(otpRetention)),
	}
}

func fromOTPItem(item otpItem) (*domain.OTPRecord, error) {
	id, err := domain.NewOTPID(item.OTPID)
	if err != nil {
		return nil, err
	}
	sessionID, err := domain.NewSessionID(item.SessionID)
	if err != nil {
		return nil, err
	}
	return &domain.OTPRecord{
		ID:                id,
		SessionID:         sessionID,
		Hash:              item.Hash,
		CreatedAt:         domain.FromMillis(item.CreatedAt),
		ExpiresAt:         domain.FromMillis(item.ExpiresAt),
		Verified:          item.Verified,
		VerifiedAt:        domain.FromMillis(item.VerifiedAt),
		DeliveryMessageID: item.DeliveryMessageID,
		DeliveryStatus:    domain.DeliveryStatus(item.DeliveryStatus),
		DeliveryErrorCode: item.DeliveryErrorCode,
		DeliveryUpdatedAt: domain.FromMillis(item.DeliveryUpdatedAt),
	}, nil
}

// OTPStore persists OTP records in DynamoDB.
type OTPStore struct {
	db        otpDynamoDB
	tableName string
}

// NewOTPStore creates an OTPStore backed by the given DynamoDB client.
func NewOTPStore(db otpDynamoDB, tableName string) *OTPStore {
	return &OTPStore{db: db, tableName: tableName}
}

// Create writes a new OTP record. Earlier records for the session stay in
// place; lookups always take the newest.
func (s *OTPStore) Create(ctx context.Context, record domain.OTPRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.otp.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	av, err := dynamo.MarshalMap(toOTPItem(record))
	if err != nil {
		return spanErr(span, fmt.Errorf("otp store: marshal item: %w", err))
	}
	expr, err := dynamo.NewExpressionBuilder().
		WithCondition(dynamo.AttributeNotExists(dynamo.Name("otp_id"))).
		Build()
	if err != nil {
		return spanErr(span, fmt.Errorf("otp store: build condition: %w", err))
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:                &s.tableName,
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("otp store: create: %w", domain.ErrAlreadyExists)
		}
		return spanErr(span, fmt.Errorf("otp store: create: %w", err))
	}
	return nil
}

// Get reads a record by ID using a strongly consistent read.
// Returns domain.ErrNotFound when absent.
func (s *OTPStore) Get(ctx context.Context, id domain.OTPID) (*domain.OTPRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.otp.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &s.tableName,
		Key:            otpKey(id),
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("otp store: get: %w", err))
	}
	if out.Item == nil {
		return nil, fmt.Errorf("otp store: get: %w", domain.ErrNotFound)
	}
	return s.decode(out.Item)
}

// FindByDeliveryMessageID resolves a provider message ID to its record.
// Returns domain.ErrNotFound when no record carries the ID.
func (s *OTPStore) FindByDeliveryMessageID(ctx context.Context, messageID string) (*domain.OTPRecord, error) {
	ctx, span := tracer.Start(ctx, "dynamo.otp.find_by_message_id")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "Query"),
	)

	rec, err := s.queryOne(ctx, otpDeliveryIndex, "delivery_message_id", messageID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("otp store: find by message id: %w", err))
	}
	if rec == nil {
		return nil, fmt.Errorf("otp store: find by message id: %w", domain.ErrNotFound)
	}
	return rec, nil
}

// MarkVerified consumes the code. The update is conditional on verified
// being false, so of two concurrent matches only one succeeds.
// Returns domain.ErrOTPAlreadyUsed for the loser.
func (s *OTPStore) MarkVerified(ctx context.Context, id domain.OTPID, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.otp.mark_verified")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	update := dynamo.Set(dynamo.Name("verified"), dynamo.Value(true)).
		Set(dynamo.Name("verified_at"), dynamo.Value(domain.ToMillis(at)))
	cond := dynamo.AttributeExists(dynamo.Name("otp_id")).
		And(dynamo.Name("verified").Equal(dynamo.Value(false)))

	err := s.update(ctx, id, update, cond)
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("otp store: mark verified: %w", domain.ErrOTPAlreadyUsed)
	}
	if err != nil {
		return spanErr(span, fmt.Errorf("otp store: mark verified: %w", err))
	}
	return nil
}

// RecordDelivery merges a delivery report into the record. Empty fields in
// u leave the stored values alone.
func (s *OTPStore) RecordDelivery(ctx context.Context, id domain.OTPID, u domain.DeliveryUpdate) error {
	ctx, span := tracer.Start(ctx, "dynamo.otp.record_delivery")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
		attribute.String("delivery.status", string(u.Status)),
	)

	update := dynamo.Set(dynamo.Name("delivery_status"), dynamo.Value(string(u.Status))).
		Set(dynamo.Name("delivery_updated_at"), dynamo.Value(domain.ToMillis(u.At)))
	if u.MessageID != "" {
		update = update.Set(dynamo.Name("delivery_message_id"), dynamo.Value(u.MessageID))
	}
	if u.ErrorCode != "" {
		update = update.Set(dynamo.Name("delivery_error_code"), dynamo.Value(u.ErrorCode))
	}

	err := s.update(ctx, id, update, dynamo.AttributeExists(dynamo.Name("otp_id")))
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("otp store: record delivery: %w", domain.ErrNotFound)
	}
	if err != nil {
		return spanErr(span, fmt.Errorf("otp store: record delivery: %w", err))
	}
	return nil
}

func (s *OTPStore) update(ctx context.Context, id domain.OTPID, update dynamo.UpdateBuilder, cond dynamo.ConditionBuilder) error {
	expr, err := dynamo.NewExpressionBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build expression: %w", err)
	}
	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       otpKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// queryOne returns the first item of an index query, or nil if none.
func (s *OTPStore) queryOne(ctx context.Context, index, attr, value string) (*domain.OTPRecord, error) {
	expr, err := dynamo.NewExpressionBuilder().
		WithKeyCondition(dynamo.Key(attr).Equal(dynamo.Value(value))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 dynamo.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     dynamo.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return s.decode(out.Items[0])
}

func (s *OTPStore) decode(av map[string]dynamo.AttributeValue) (*domain.OTPRecord, error) {
	var item otpItem
	if err := dynamo.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("otp store: unmarshal otp: %w", err)
	}
	rec, err := fromOTPItem(item)
	if err != nil {
		return nil, fmt.Errorf("otp store: decode otp: %w", err)
	}
	return rec, nil
}

func otpKey(id domain.OTPID) map[string]dynamo.AttributeValue {
	return map[string]dynamo.AttributeValue{
		"otp_id": &dynamo.AttributeValueMemberS{Value: id.String()},
	}
}
