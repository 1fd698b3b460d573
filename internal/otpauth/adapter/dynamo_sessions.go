package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

// sessionRetention keeps finished sessions readable for a while after they
// expire before DynamoDB TTL removes them.
const sessionRetention = 24 * time.Hour

// Compile-time check: SessionStore satisfies app.SessionStore.
var _ app.SessionStore = (*SessionStore)(nil)

// sessionDynamoDB is a narrow, consumer-defined interface for DynamoDB operations
// required by the session store. The *dynamodb.Client satisfies this interface.
type sessionDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// sessionItem is the DynamoDB item shape for the sessions table.
// Timestamps are epoch milliseconds; ttl is epoch seconds.
type sessionItem struct {
	SessionID       string `dynamodbav:"session_id"`
	PhoneNumber     string `dynamodbav:"phone_number"`
	AppID           string `dynamodbav:"app_id,omitempty"`
	ClientSessionID string `dynamodbav:"client_session_id,omitempty"`
	Status          string `dynamodbav:"status"`
	Attempts        int    `dynamodbav:"attempts"`
	CurrentOTPID    string `dynamodbav:"current_otp_id,omitempty"`
	CreatedAt       int64  `dynamodbav:"created_at"`
	ExpiresAt       int64  `dynamodbav:"expires_at"`
	LastActivityAt  int64  `dynamodbav:"last_activity_at"`
	LockReason      string `dynamodbav:"lock_reason,omitempty"`
	LockedAt        int64  `dynamodbav:"locked_at,omitempty"`
	TTL             int64  `dynamodbav:"ttl"`
}

func toSessionItem(s domain.Session) sessionItem {
	return sessionItem{
		SessionID:       s.ID.String(),
		PhoneNumber:     s.PhoneNumber.String(),
		AppID:           s.AppID,
		ClientSessionID: s.ClientSessionID,
		Status:          string(s.Status),
		Attempts:        s.Attempts,
		CurrentOTPID:    s.CurrentOTPID.String(),
		CreatedAt:       domain.ToMillis(s.CreatedAt),
		ExpiresAt:       domain.ToMillis(s.ExpiresAt),
		LastActivityAt:  domain.ToMillis(s.LastActivityAt),
		LockReason:      s.LockReason,
		LockedAt:        domain.ToMillis(s.LockedAt),
		TTL:             domain.ExpiryEpoch(s.ExpiresAt.Add(sessionRetention)),
	}
}

func fromSessionItem(item sessionItem) (*domain.Session, error) {
	id, err := domain.NewSessionID(item.SessionID)
	if err != nil {
		return nil, err
	}
	phone, err := domain.NewPhoneNumber(item.PhoneNumber)
	if err != nil {
		return nil, err
	}
	status := domain.SessionStatus(item.Status)
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown session status %q: %w", item.Status, domain.ErrInvalidInput)
	}
	var otpID domain.OTPID
	if item.CurrentOTPID != "" {
		if otpID, err = domain.NewOTPID(item.CurrentOTPID); err != nil {
			return nil, err
		}
	}
	return &domain.Session{
		ID:              id,
		PhoneNumber:     phone,
		AppID:           item.AppID,
		ClientSessionID: item.ClientSessionID,
		Status:          status,
		Attempts:        item.Attempts,
		CurrentOTPID:    otpID,
		CreatedAt:       domain.FromMillis(item.CreatedAt),
		ExpiresAt:       domain.FromMillis(item.ExpiresAt),
		LastActivityAt:  domain.FromMillis(item.LastActivityAt),
		LockReason:      item.LockReason,
		LockedAt:        domain.FromMillis(item.LockedAt),
	}, nil
}

// SessionStore persists sessions in DynamoDB. State changes are conditional
// updates on the status attribute, so concurrent requests cannot both win.
type SessionStore struct {
	db        sessionDynamoDB
	tableName string
}

// NewSessionStore creates a SessionStore backed by the given DynamoDB client.
func NewSessionStore(db sessionDynamoDB, tableName string) *SessionStore {
	return &SessionStore{db: db, tableName: tableName}
}

// Create writes a new session.
// Returns domain.ErrAlreadyExists if a session with the same ID already exists.
func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	av, err := dynamo.MarshalMap(toSessionItem(session))
	if err != nil {
		return spanErr(span, fmt.Errorf("session store: marshal session: %w", err))
	}

	expr, err := dynamo.NewExpressionBuilder().
		WithCondition(dynamo.AttributeNotExists(dynamo.Name("session_id"))).
		Build()
	if err != nil {
		return spanErr(span, fmt.Errorf("session store: build condition: %w", err))
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:                &s.tableName,
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("session store: create: %w", domain.ErrAlreadyExists)
		}
		return spanErr(span, fmt.Errorf("session store: create: %w", err))
	}
	return nil
}

// Get reads a session with a strongly consistent read.
// Returns domain.ErrSessionNotFound when no session exists for the given ID.
func (s *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &s.tableName,
		Key:            sessionKey(id),
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("session store: get: %w", err))
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session store: get: %w", domain.ErrSessionNotFound)
	}

	session, err := decodeSession(out.Item)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("session store: get: %w", err))
	}
	return session, nil
}

// UpdateStatus sets status to `to` if the stored status is one of `from`.
// Returns domain.ErrStateConflict when the condition fails.
func (s *SessionStore) UpdateStatus(ctx context.Context, id domain.SessionID, to domain.SessionStatus, from []domain.SessionStatus, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
		attribute.String("session.status", string(to)),
	)

	if len(from) == 0 {
		return fmt.Errorf("session store: update status: no source states: %w", domain.ErrInvalidInput)
	}
	update := dynamo.Set(dynamo.Name("status"), dynamo.Value(string(to))).
		Set(dynamo.Name("last_activity_at"), dynamo.Value(domain.ToMillis(at)))

	_, err := s.conditionalUpdate(ctx, span, id, update, statusIn(from), "update status", "")
	return err
}

// Lock moves an open session to LOCKED and records why.
// Returns domain.ErrStateConflict if the session is no longer open.
func (s *SessionStore) Lock(ctx context.Context, id domain.SessionID, reason string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.lock")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	atMillis := domain.ToMillis(at)
	update := dynamo.Set(dynamo.Name("status"), dynamo.Value(string(domain.SessionLocked))).
		Set(dynamo.Name("lock_reason"), dynamo.Value(reason)).
		Set(dynamo.Name("locked_at"), dynamo.Value(atMillis)).
		Set(dynamo.Name("last_activity_at"), dynamo.Value(atMillis))

	_, err := s.conditionalUpdate(ctx, span, id, update, statusIn(domain.SourceStatuses(domain.SessionLocked)), "lock", "")
	return err
}

// SetCurrentOTP moves an open session to OTP_GENERATED and records otpID as
// the only code it accepts.
// Returns domain.ErrStateConflict if the session is no longer open.
func (s *SessionStore) SetCurrentOTP(ctx context.Context, id domain.SessionID, otpID domain.OTPID, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.set_current_otp")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	update := dynamo.Set(dynamo.Name("status"), dynamo.Value(string(domain.SessionOTPGenerated))).
		Set(dynamo.Name("current_otp_id"), dynamo.Value(otpID.String())).
		Set(dynamo.Name("last_activity_at"), dynamo.Value(domain.ToMillis(at)))
	cond := statusIn(domain.SourceStatuses(domain.SessionOTPGenerated))

	_, err := s.conditionalUpdate(ctx, span, id, update, cond, "set current otp", "")
	return err
}

// ReserveAttempt charges one verification attempt before the code is
// compared. The increment is conditional on the session being open with
// fewer than maxAttempts, so concurrent verifies cannot overdraw the
// budget. It returns the session as written.
// Returns domain.ErrStateConflict when the condition fails.
func (s *SessionStore) ReserveAttempt(ctx context.Context, id domain.SessionID, maxAttempts int, at time.Time) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.reserve_attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	update := dynamo.Set(dynamo.Name("last_activity_at"), dynamo.Value(domain.ToMillis(at))).
		Add(dynamo.Name("attempts"), dynamo.Value(1))
	cond := statusIn(domain.OpenStatuses).
		And(dynamo.Name("attempts").LessThan(dynamo.Value(maxAttempts)))

	attrs, err := s.conditionalUpdate(ctx, span, id, update, cond, "reserve attempt", dynamo.ReturnAllNew)
	if err != nil {
		return nil, err
	}
	session, err := decodeSession(attrs)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("session store: reserve attempt: %w", err))
	}
	return session, nil
}

// ReleaseAttempt refunds an attempt reserved by a verify that could not
// reach a verdict.
func (s *SessionStore) ReleaseAttempt(ctx context.Context, id domain.SessionID, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.release_attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	update := dynamo.Set(dynamo.Name("last_activity_at"), dynamo.Value(domain.ToMillis(at))).
		Add(dynamo.Name("attempts"), dynamo.Value(-1))
	cond := dynamo.Name("attempts").GreaterThan(dynamo.Value(0))

	_, err := s.conditionalUpdate(ctx, span, id, update, cond, "release attempt", "")
	return err
}

// CompleteVerification moves the session to VERIFIED and refunds the
// attempt the successful verify reserved. It only applies while otpID is
// still the session's current code.
// Returns domain.ErrStateConflict when the session moved or a newer code
// was issued.
func (s *SessionStore) CompleteVerification(ctx context.Context, id domain.SessionID, otpID domain.OTPID, at time.Time) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.complete_verification")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "UpdateItem"),
	)

	update := dynamo.Set(dynamo.Name("status"), dynamo.Value(string(domain.SessionVerified))).
		Set(dynamo.Name("last_activity_at"), dynamo.Value(domain.ToMillis(at))).
		Add(dynamo.Name("attempts"), dynamo.Value(-1))
	cond := statusIn(domain.SourceStatuses(domain.SessionVerified)).
		And(dynamo.Name("current_otp_id").Equal(dynamo.Value(otpID.String())))

	_, err := s.conditionalUpdate(ctx, span, id, update, cond, "complete verification", "")
	return err
}

// conditionalUpdate applies update under cond. Attributes are returned only
// when returnValues asks for them.
func (s *SessionStore) conditionalUpdate(ctx context.Context, span trace.Span, id domain.SessionID, update dynamo.UpdateBuilder, cond dynamo.ConditionBuilder, op string, returnValues dynamo.ReturnValue) (map[string]dynamo.AttributeValue, error) {
	expr, err := dynamo.NewExpressionBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("session store: build %s: %w", op, err))
	}

	out, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       sessionKey(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              returnValues,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return nil, fmt.Errorf("session store: %s: %w", op, domain.ErrStateConflict)
		}
		return nil, spanErr(span, fmt.Errorf("session store: %s: %w", op, err))
	}
	return out.Attributes, nil
}

func decodeSession(av map[string]dynamo.AttributeValue) (*domain.Session, error) {
	var item sessionItem
	if err := dynamo.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	session, err := fromSessionItem(item)
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func sessionKey(id domain.SessionID) map[string]dynamo.AttributeValue {
	return map[string]dynamo.AttributeValue{
		"session_id": &dynamo.AttributeValueMemberS{Value: id.String()},
	}
}

// statusIn builds `status IN (...)`. statuses must be non-empty.
func statusIn(statuses []domain.SessionStatus) dynamo.ConditionBuilder {
	operands := make([]dynamo.OperandBuilder, 0, len(statuses))
	for _, st := range statuses {
		operands = append(operands, dynamo.Value(string(st)))
	}
	return dynamo.Name("status").In(operands[0], operands[1:]...)
}
