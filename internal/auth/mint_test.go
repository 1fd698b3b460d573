package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/domain/domaintest"
)

const (
	testSessionID = "9f1b6a3e-0c4d-4e57-8a59-2f3d1c7b5e01"
	testPhone     = "+15551111111"
	testIssuer    = "otp-auth"
	testAudience  = "otp-auth-clients"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func testSubject() auth.TokenSubject {
	return auth.TokenSubject{
		SessionID: domain.MustSessionID(testSessionID),
		Phone:     domain.MustPhoneNumber(testPhone),
		AppID:     "demo",
	}
}

type failingKeyStore struct{}

func (failingKeyStore) SigningKey() (*rsa.PrivateKey, string, error) {
	return nil, "", errors.New("secrets manager unavailable")
}

func (failingKeyStore) PublicKey(string) (*rsa.PublicKey, error) {
	return nil, domain.ErrNotFound
}

func TestMintAuthToken(t *testing.T) {
	key := generateTestKey(t)
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	clock := domaintest.NewFakeClock(start)

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: auth.NewStaticKeyStore(key, "test-key-001"),
		TokenTTL: time.Hour,
		Issuer:   testIssuer,
		Audience: testAudience,
		Clock:    clock,
	})

	parse := func(t *testing.T, raw string) (*jwt.Token, *auth.Claims) {
		t.Helper()
		var claims auth.Claims
		token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithTimeFunc(clock.Now), jwt.WithIssuer(testIssuer), jwt.WithAudience(testAudience))
		require.NoError(t, err)
		return token, &claims
	}

	t.Run("token binds session, phone and app", func(t *testing.T) {
		result, err := minter.MintAuthToken(testSubject())
		require.NoError(t, err)
		assert.Equal(t, start, result.IssuedAt)
		assert.Equal(t, start.Add(time.Hour), result.ExpiresAt)

		token, claims := parse(t, result.Token)
		assert.True(t, token.Valid)
		assert.Equal(t, testSessionID, claims.Subject)
		assert.Equal(t, testPhone, claims.PhoneNumber)
		assert.Equal(t, "demo", claims.AppID)
		assert.Equal(t, result.JTI, claims.ID)
		assert.Equal(t, start.Unix(), claims.IssuedAt.Unix())
		assert.Equal(t, "test-key-001", token.Header["kid"])
		assert.Equal(t, "RS256", token.Header["alg"])
	})

	t.Run("each token has a unique JTI", func(t *testing.T) {
		r1, err := minter.MintAuthToken(testSubject())
		require.NoError(t, err)
		r2, err := minter.MintAuthToken(testSubject())
		require.NoError(t, err)
		assert.NotEqual(t, r1.JTI, r2.JTI)
	})

	t.Run("token expires after the TTL", func(t *testing.T) {
		result, err := minter.MintAuthToken(testSubject())
		require.NoError(t, err)

		late := domaintest.NewFakeClock(start.Add(time.Hour + time.Second))
		_, err = jwt.ParseWithClaims(result.Token, &auth.Claims{}, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithTimeFunc(late.Now))
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("zero TTL falls back to default lifetime", func(t *testing.T) {
		m := auth.NewMinter(auth.MinterConfig{
			KeyStore: auth.NewStaticKeyStore(key, "k"),
			Clock:    clock,
		})
		result, err := m.MintAuthToken(testSubject())
		require.NoError(t, err)
		assert.Equal(t, start.Add(domain.AuthTokenLifetime), result.ExpiresAt)
	})

	t.Run("missing subject fields are rejected", func(t *testing.T) {
		_, err := minter.MintAuthToken(auth.TokenSubject{AppID: "demo"})
		assert.Error(t, err)

		sub := testSubject()
		sub.Phone = domain.PhoneNumber{}
		_, err = minter.MintAuthToken(sub)
		assert.Error(t, err)
	})

	t.Run("signing key failure surfaces", func(t *testing.T) {
		broken := auth.NewMinter(auth.MinterConfig{KeyStore: failingKeyStore{}, Clock: clock})
		_, err := broken.MintAuthToken(testSubject())
		assert.ErrorContains(t, err, "signing key")
	})
}
