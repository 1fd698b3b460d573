package domain

import (
	"fmt"
	"regexp"
)

// e164Pattern matches E.164 phone numbers: + followed by 7-15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ValidatePhoneNumber reports whether s is an E.164 number: a leading '+',
// a first digit 1-9, then 6-14 further digits.
func ValidatePhoneNumber(s string) bool {
	return e164Pattern.MatchString(s)
}

// PhoneNumber is a value object representing a phone number in E.164 format.
// Always valid in memory. Construct with NewPhoneNumber.
type PhoneNumber struct {
	value string
}

// NewPhoneNumber creates a PhoneNumber from a raw string, validating E.164 format.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	if raw == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty: %w", ErrInvalidPhoneNumber)
	}
	if !ValidatePhoneNumber(raw) {
		return PhoneNumber{}, fmt.Errorf("phone number is not valid E.164: %w", ErrInvalidPhoneNumber)
	}
	return PhoneNumber{value: raw}, nil
}

// MustPhoneNumber creates a PhoneNumber, panicking on invalid input. Use only in tests.
func MustPhoneNumber(raw string) PhoneNumber {
	p, err := NewPhoneNumber(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p PhoneNumber) String() string { return p.value }
func (p PhoneNumber) IsZero() bool   { return p.value == "" }

// Equal is an exact match. Numbers are never normalized before comparison.
func (p PhoneNumber) Equal(other PhoneNumber) bool { return p.value == other.value }

// Masked returns the number with everything but the country prefix and last
// four digits hidden, e.g. "+1******4567". Use it for logs.
func (p PhoneNumber) Masked() string {
	return MaskPhone(p.value)
}

// MaskPhone masks a raw phone string for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return "****"
	}
	masked := []byte(phone)
	for i := 2; i < len(masked)-4; i++ {
		masked[i] = '*'
	}
	return string(masked)
}
