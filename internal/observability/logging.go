package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/otp-auth/internal/domain"
)

// LogConfig holds configuration for the structured logger.
type LogConfig struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	ServiceName string
	Environment string
	Output      io.Writer // defaults to os.Stdout
}

// redactedKeys are matched exactly. Short names like "otp" would otherwise
// swallow correlation fields such as otp_id.
var redactedKeys = map[string]struct{}{
	"otp":      {},
	"code":     {},
	"hash":     {},
	"pepper":   {},
	"token":    {},
	"jwt":      {},
	"otp_code": {},
}

// sensitivePatterns are matched case-insensitively as substrings.
var sensitivePatterns = []string{
	"_hash",
	"_key",
	"_secret",
	"_token",
	"_password",
	"_pepper",
	"authorization",
	"bearer",
	"apikey",
	"secret",
	"password",
	"private",
}

// maskedKeys keep enough of the value to correlate support tickets.
var maskedKeys = map[string]struct{}{
	"phone":        {},
	"phone_number": {},
}

// InitLogger creates a structured logger with secret redaction and sets it
// as the slog default.
func InitLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
	)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRedactingHandler creates a JSON handler with the same redaction as
// InitLogger, for custom handler composition and tests.
func NewRedactingHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	originalReplace := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if originalReplace != nil {
			a = originalReplace(groups, a)
		}
		return redactSecrets(groups, a)
	}

	return slog.NewJSONHandler(w, opts)
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	keyLower := strings.ToLower(a.Key)
	if _, ok := redactedKeys[keyLower]; ok {
		return slog.String(a.Key, "[REDACTED]")
	}
	if _, ok := maskedKeys[keyLower]; ok && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, domain.MaskPhone(a.Value.String()))
	}
	for _, pattern := range sensitivePatterns {
		if strings.Contains(keyLower, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// WithTraceID returns logger annotated with the active span's trace and
// span IDs, or logger unchanged when ctx carries no span.
func WithTraceID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// TraceIDFromContext returns the active trace ID, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
