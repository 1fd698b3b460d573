package domain_test

import (
	"testing"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"US number", "+14155552671", true},
		{"UK number", "+447911123456", true},
		{"minimum length", "+1234567", true},
		{"maximum length", "+123456789012345", true},
		{"empty", "", false},
		{"no plus", "12345", false},
		{"no plus long", "14155552671", false},
		{"leading zero", "+0123456789", false},
		{"too short", "+123456", false},
		{"too long", "+1234567890123456", false},
		{"letters", "+1415555ABCD", false},
		{"spaces", "+1 415 555 2671", false},
		{"trailing newline", "+14155552671\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.ValidatePhoneNumber(tt.input))
		})
	}
}

func TestPhoneNumber(t *testing.T) {
	t.Run("valid number constructs", func(t *testing.T) {
		p, err := domain.NewPhoneNumber("+15551234567")
		require.NoError(t, err)
		assert.Equal(t, "+15551234567", p.String())
		assert.False(t, p.IsZero())
	})

	t.Run("invalid number wraps sentinel", func(t *testing.T) {
		_, err := domain.NewPhoneNumber("+0123456789")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)

		_, err = domain.NewPhoneNumber("")
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	})

	t.Run("error does not echo the raw number", func(t *testing.T) {
		_, err := domain.NewPhoneNumber("+1555123456789012")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "+1555123456789012")
	})

	t.Run("equal is exact", func(t *testing.T) {
		a := domain.MustPhoneNumber("+15551234567")
		assert.True(t, a.Equal(domain.MustPhoneNumber("+15551234567")))
		assert.False(t, a.Equal(domain.MustPhoneNumber("+15559999999")))
	})

	t.Run("MustPhoneNumber panics on invalid", func(t *testing.T) {
		assert.Panics(t, func() {
			domain.MustPhoneNumber("invalid")
		})
	})
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+1******4567", domain.MaskPhone("+15551234567"))
	assert.Equal(t, "****", domain.MaskPhone("+1234"))
	assert.Equal(t, "+1******4567", domain.MustPhoneNumber("+15551234567").Masked())
}
