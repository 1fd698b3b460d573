package domain_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/domain"
)

func TestSecretStringFormatting(t *testing.T) {
	otp := domain.SecretString("042117")

	for _, verb := range []string{"%s", "%v", "%+v", "%#v"} {
		assert.Equal(t, "[REDACTED]", fmt.Sprintf(verb, otp), verb)
	}
	assert.Equal(t, "042117", otp.Expose())
	assert.False(t, otp.IsEmpty())
	assert.True(t, domain.SecretString("").IsEmpty())
}

func TestSecretBytesFormatting(t *testing.T) {
	pepper := domain.SecretBytes("pepper-bytes")

	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", pepper))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", pepper))
	assert.Equal(t, []byte("pepper-bytes"), pepper.Expose())
	assert.True(t, domain.SecretBytes(nil).IsEmpty())
}

func TestSecretsNeverReachLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("auth.otp_issued",
		slog.Any("otp", domain.SecretString("042117")),
		slog.Any("pepper", domain.SecretBytes("pepper-bytes")),
	)

	out := buf.String()
	assert.NotContains(t, out, "042117")
	assert.NotContains(t, out, "pepper-bytes")
	assert.Contains(t, out, "[REDACTED]")
}

func TestSecretStringJSONCarriesValue(t *testing.T) {
	// The SMS queue payload is the one place the plaintext is serialized.
	body, err := json.Marshal(struct {
		OTP domain.SecretString `json:"otp"`
	}{"042117"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"otp":"042117"}`, string(body))
}
