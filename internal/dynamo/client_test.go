package dynamo_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/dynamo"
)

func TestNewClient(t *testing.T) {
	client := dynamo.NewClient(aws.Config{Region: "us-east-1"})
	require.NotNil(t, client.DB)
}

func TestIsConditionalCheckFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", dynamo.ErrConditionalCheckFailed(), true},
		{"wrapped", fmt.Errorf("increment attempts: %w", dynamo.ErrConditionalCheckFailed()), true},
		{"other error", errors.New("throttled"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dynamo.IsConditionalCheckFailed(tt.err))
		})
	}
}
