package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aelexs/otp-auth/internal/domain"
)

// TokenSubject is what an auth token asserts: this phone number completed
// OTP verification in this session, on behalf of this application.
type TokenSubject struct {
	SessionID domain.SessionID
	Phone     domain.PhoneNumber
	AppID     string
}

// MintResult is a signed token plus the values a caller reports back.
type MintResult struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MinterConfig configures a Minter. A zero TokenTTL uses
// domain.AuthTokenLifetime.
type MinterConfig struct {
	KeyStore KeyStore
	TokenTTL time.Duration
	Issuer   string
	Audience string
	Clock    domain.Clock
}

// Minter signs RS256 auth tokens with the key store's current key and
// stamps its key ID into the header.
type Minter struct {
	keys     KeyStore
	ttl      time.Duration
	issuer   string
	audience string
	clock    domain.Clock
}

func NewMinter(cfg MinterConfig) *Minter {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = domain.AuthTokenLifetime
	}
	return &Minter{
		keys:     cfg.KeyStore,
		ttl:      ttl,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		clock:    cfg.Clock,
	}
}

// MintAuthToken signs a token for subject. The session ID becomes sub.
func (m *Minter) MintAuthToken(subject TokenSubject) (MintResult, error) {
	if subject.SessionID.IsZero() || subject.Phone.IsZero() {
		return MintResult{}, errors.New("mint auth token: session and phone are required")
	}

	key, kid, err := m.keys.SigningKey()
	if err != nil {
		return MintResult{}, fmt.Errorf("mint auth token: signing key: %w", err)
	}

	issued := m.clock.Now().UTC().Truncate(time.Second)
	res := MintResult{
		JTI:       uuid.NewString(),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(m.ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        res.JTI,
			Subject:   subject.SessionID.String(),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(res.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(res.ExpiresAt),
		},
		PhoneNumber: subject.Phone.String(),
		AppID:       subject.AppID,
	})
	token.Header["kid"] = kid

	if res.Token, err = token.SignedString(key); err != nil {
		return MintResult{}, fmt.Errorf("mint auth token: sign: %w", err)
	}
	return res, nil
}
