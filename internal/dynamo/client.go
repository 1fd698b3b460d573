// Package dynamo owns the DynamoDB SDK dependency. The stores in
// internal/otpauth/adapter reach DynamoDB through the aliases and helpers
// here, never through the SDK packages directly.
package dynamo

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client holds the SDK client shared by the session, OTP and audit stores.
type Client struct {
	DB *dynamodb.Client
}

// NewClient builds a Client from an AWS configuration loaded by awsenv, so
// DynamoDB shares region, credentials and endpoint with the other services.
func NewClient(awsCfg aws.Config) *Client {
	return &Client{DB: dynamodb.NewFromConfig(awsCfg)}
}

// Operation types used by the stores.
type (
	GetItemInput     = dynamodb.GetItemInput
	GetItemOutput    = dynamodb.GetItemOutput
	PutItemInput     = dynamodb.PutItemInput
	PutItemOutput    = dynamodb.PutItemOutput
	QueryInput       = dynamodb.QueryInput
	QueryOutput      = dynamodb.QueryOutput
	UpdateItemInput  = dynamodb.UpdateItemInput
	UpdateItemOutput = dynamodb.UpdateItemOutput

	// Options lets store interfaces mirror the SDK's optFns parameter.
	Options = dynamodb.Options

	ReturnValue = types.ReturnValue
)

type (
	AttributeValue           = types.AttributeValue
	AttributeValueMemberS    = types.AttributeValueMemberS
	AttributeValueMemberN    = types.AttributeValueMemberN
	AttributeValueMemberBOOL = types.AttributeValueMemberBOOL
)

type (
	ConditionBuilder = expression.ConditionBuilder
	UpdateBuilder    = expression.UpdateBuilder
	OperandBuilder   = expression.OperandBuilder
)

var (
	NewExpressionBuilder = expression.NewBuilder
	Name                 = expression.Name
	Value                = expression.Value
	Key                  = expression.Key
	Set                  = expression.Set
	AttributeExists      = expression.AttributeExists
	AttributeNotExists   = expression.AttributeNotExists

	MarshalMap   = attributevalue.MarshalMap
	UnmarshalMap = attributevalue.UnmarshalMap

	Bool   = aws.Bool
	Int32  = aws.Int32
	String = aws.String
)

// ReturnAllNew asks UpdateItem for the whole item as written. Reserving a
// verification attempt reads the new counter and current OTP this way.
const ReturnAllNew = types.ReturnValueAllNew

// IsConditionalCheckFailed reports whether a conditional write lost: the
// item already existed, or its status or counter no longer matched.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// ErrConditionalCheckFailed builds the SDK's conditional failure so store
// tests can simulate a lost race.
func ErrConditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}
