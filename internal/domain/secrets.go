package domain

import "log/slog"

// redacted replaces a secret wherever it would otherwise be formatted.
const redacted = "[REDACTED]"

// SecretString holds plaintext OTPs, the hash pepper and the app secret.
// Formatting verbs and slog both print the placeholder. Only Expose and
// JSON encoding (the SMS queue payload) see the value.
type SecretString string

func (s SecretString) String() string      { return redacted }
func (s SecretString) GoString() string    { return redacted }
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// Expose returns the plaintext. Call it at the point of use only.
func (s SecretString) Expose() string { return string(s) }

func (s SecretString) IsEmpty() bool { return s == "" }

// SecretBytes is the byte form, used for keying material such as the
// pepper once it is loaded.
type SecretBytes []byte

func (s SecretBytes) String() string      { return redacted }
func (s SecretBytes) GoString() string    { return redacted }
func (s SecretBytes) LogValue() slog.Value { return slog.StringValue(redacted) }

// Expose returns the raw bytes. The slice aliases the secret; do not
// retain or mutate it.
func (s SecretBytes) Expose() []byte { return s }

func (s SecretBytes) IsEmpty() bool { return len(s) == 0 }

var (
	_ slog.LogValuer = SecretString("")
	_ slog.LogValuer = SecretBytes(nil)
)
