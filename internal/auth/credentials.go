package auth

import (
	"crypto/sha256"

	"github.com/aelexs/otp-auth/internal/domain"
)

// AppCredentials is the static identity a client application presents when
// scanning its QR code.
type AppCredentials struct {
	AppID  string
	Secret domain.SecretString
}

// Verify reports whether the presented pair matches. Both sides are hashed
// first so the comparison runs over equal-length buffers whatever the
// caller sends, and both fields are always compared.
func (c AppCredentials) Verify(appID, secret string) bool {
	if c.AppID == "" || c.Secret.IsEmpty() {
		return false
	}
	wantID := sha256.Sum256([]byte(c.AppID))
	gotID := sha256.Sum256([]byte(appID))
	wantSecret := sha256.Sum256([]byte(c.Secret.Expose()))
	gotSecret := sha256.Sum256([]byte(secret))

	idOK := ConstantTimeEqual(wantID[:], gotID[:])
	secretOK := ConstantTimeEqual(wantSecret[:], gotSecret[:])
	return idOK && secretOK
}
