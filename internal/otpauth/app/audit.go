package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
)

// AuditLog is the append-only sink for audit events.
type AuditLog interface {
	Append(ctx context.Context, event domain.AuditEvent) error
}

// AuditTrail writes audit events without blocking the caller. A failed write
// is logged and otherwise ignored.
type AuditTrail struct {
	log    AuditLog
	clock  domain.Clock
	logger *slog.Logger
	wg     sync.WaitGroup // owns in-flight writes
}

// NewAuditTrail creates an AuditTrail over log.
func NewAuditTrail(log AuditLog, clock domain.Clock, logger *slog.Logger) *AuditTrail {
	return &AuditTrail{log: log, clock: clock, logger: logger}
}

// Record stamps the event with an ID and timestamp and appends it in the
// background. The write is detached from ctx cancellation so an aborted
// request still leaves its trail.
func (a *AuditTrail) Record(ctx context.Context, event domain.AuditEvent) {
	if event.ID == "" {
		event.ID = domain.GenerateAuditID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.clock.Now().UTC()
	}

	auditCtx := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.log.Append(auditCtx, event); err != nil {
			observability.WithTraceID(auditCtx, a.logger).ErrorContext(auditCtx, "audit.write_failed",
				"error", err,
				"event_type", string(event.Type),
				"session_id", event.SessionID,
			)
		}
	}()
}

// Wait blocks until every pending write has finished.
func (a *AuditTrail) Wait() {
	a.wg.Wait()
}
