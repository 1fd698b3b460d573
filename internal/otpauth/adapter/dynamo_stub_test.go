package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/otp-auth/internal/dynamo"
)

// stubDynamo implements every narrow DynamoDB interface in this package.
type stubDynamo struct {
	getItemFn    func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	putItemFn    func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	queryFn      func(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	updateItemFn func(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

func (s *stubDynamo) GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
	return s.getItemFn(ctx, params, optFns...)
}

func (s *stubDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	return s.putItemFn(ctx, params, optFns...)
}

func (s *stubDynamo) Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
	return s.queryFn(ctx, params, optFns...)
}

func (s *stubDynamo) UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
	return s.updateItemFn(ctx, params, optFns...)
}

var (
	_ sessionDynamoDB = (*stubDynamo)(nil)
	_ otpDynamoDB     = (*stubDynamo)(nil)
	_ auditDynamoDB   = (*stubDynamo)(nil)
)

// hasValue reports whether an expression value map carries want.
func hasValue(t *testing.T, values map[string]dynamo.AttributeValue, want any) bool {
	t.Helper()
	for _, v := range values {
		switch av := v.(type) {
		case *dynamo.AttributeValueMemberS:
			if s, ok := want.(string); ok && av.Value == s {
				return true
			}
		case *dynamo.AttributeValueMemberBOOL:
			if b, ok := want.(bool); ok && av.Value == b {
				return true
			}
		case *dynamo.AttributeValueMemberN:
			if n, ok := want.(string); ok && av.Value == n {
				return true
			}
		}
	}
	return false
}

// assertNamed checks that an expression references every attribute name.
func assertNamed(t *testing.T, names map[string]string, attrs ...string) {
	t.Helper()
	got := make(map[string]bool, len(names))
	for _, n := range names {
		got[n] = true
	}
	for _, a := range attrs {
		assert.True(t, got[a], "expression should reference %q", a)
	}
}
