package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"regexp"

	"golang.org/x/crypto/hkdf"
)

var otpMax = big.NewInt(1_000_000) // 10^6 for 6-digit OTP

var otpPattern = regexp.MustCompile(`^\d{6}$`)

// otpHashInfo versions the derived key so the scheme can rotate without
// ambiguity between stored hashes.
const otpHashInfo = "otp-hash/v1"

// GenerateOTP generates a cryptographically random 6-digit OTP.
// Uses crypto/rand with rejection sampling (via big.Int) to avoid modulo bias.
// Leading zeros are kept, so the range is 000000-999999.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ValidOTPFormat reports whether s is exactly six ASCII digits.
func ValidOTPFormat(s string) bool {
	return otpPattern.MatchString(s)
}

// HashPhone returns the SHA-256 hex digest of an E.164 phone number.
// Used wherever a phone number would otherwise appear in a cache key.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(h[:])
}

// sessionKey derives the per-session HMAC key with HKDF-SHA256, using the
// server pepper as input keying material and the session ID as salt.
func sessionKey(pepper []byte, sessionID string) ([]byte, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, pepper, []byte(sessionID), []byte(otpHashInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive otp key: %w", err)
	}
	return key, nil
}

// HashOTP returns hex(HMAC-SHA256(k, code)) where k is derived from the
// pepper and the owning session's ID. The same code under a different
// session produces an unrelated digest.
func HashOTP(pepper []byte, sessionID, code string) (string, error) {
	key, err := sessionKey(pepper, sessionID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyOTPHash recomputes the digest for candidate and compares it with
// the stored digest in constant time.
func VerifyOTPHash(pepper []byte, sessionID, candidate, storedHash string) (bool, error) {
	computed, err := HashOTP(pepper, sessionID, candidate)
	if err != nil {
		return false, err
	}
	return ConstantTimeEqual([]byte(computed), []byte(storedHash)), nil
}

// ConstantTimeEqual compares a and b without leaking where they differ.
// Buffers of different length fail immediately; the length is not secret.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
