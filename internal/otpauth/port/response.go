package port

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/errmap"
	"github.com/aelexs/otp-auth/internal/observability"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// responder renders errors. It needs the clock for Retry-After and the
// logger for causes hidden behind a 500.
type responder struct {
	clock  domain.Clock
	logger *slog.Logger
}

func (rs responder) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	httpErr := errmap.ToHTTPError(err)
	body := &apiError{Code: httpErr.Code, Message: httpErr.Message}

	var attemptsErr *domain.AttemptsError
	if errors.As(err, &attemptsErr) {
		body.Details = map[string]any{"remainingAttempts": attemptsErr.Remaining}
	}

	var fieldsErr *fieldsError
	if errors.As(err, &fieldsErr) {
		body.Details = map[string]any{"fields": fieldsErr.fields}
	}

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := retryAfterSeconds(rateErr.ResetAt, rs.clock.Now())
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		body.Details = map[string]any{
			"kind":              string(rateErr.Kind),
			"retryAfterSeconds": retryAfter,
			"resetAt":           rateErr.ResetAt.UTC().Format(time.RFC3339),
		}
	}

	if httpErr.StatusCode == http.StatusInternalServerError {
		observability.WithTraceID(ctx, rs.logger).ErrorContext(ctx, "http.internal_error", "error", err)
	}
	writeJSON(w, httpErr.StatusCode, envelope{Error: body})
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
