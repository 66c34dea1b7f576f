package instrumentation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/jarvis/internal/logging"
)

// Credential lifecycle events.
const (
	EventRefresh    = "refresh"
	EventConsent    = "consent"
	EventInvalidate = "invalidate"
	EventRevoke     = "revoke"
	EventImport     = "import"
)

// CredentialEvent captures a change to the stored Google credentials for
// the audit log. It never carries token material.
type CredentialEvent struct {
	Event   string
	Account string // local account name (default, work, personal)

	// Email of the Google account, when known. Logged hashed unless the
	// audit logger is configured to include PII.
	Email string

	Scopes []string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewCredentialEvent starts an event of the given kind at start.
func NewCredentialEvent(account, event string, start time.Time) *CredentialEvent {
	return &CredentialEvent{
		Event:     event,
		Account:   account,
		StartTime: start,
	}
}

// WithScopes records the scopes involved.
func (e *CredentialEvent) WithScopes(scopes []string) *CredentialEvent {
	e.Scopes = scopes
	return e
}

// WithEmail records the Google account email.
func (e *CredentialEvent) WithEmail(email string) *CredentialEvent {
	e.Email = email
	return e
}

// WithSpanContext extracts trace context from the current span.
func (e *CredentialEvent) WithSpanContext(ctx context.Context) *CredentialEvent {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		e.TraceID = span.SpanContext().TraceID().String()
		e.SpanID = span.SpanContext().SpanID().String()
	}
	return e
}

// Complete marks the event finished at end. A nil err means success.
func (e *CredentialEvent) Complete(end time.Time, err error) *CredentialEvent {
	e.Duration = end.Sub(e.StartTime)
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Status returns "success" or "error" based on the Success field.
func (e *CredentialEvent) Status() string {
	if e.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for the event. The email is hashed
// unless includePII is set.
func (e *CredentialEvent) LogAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("event", e.Event),
		logging.Account(e.Account),
		logging.Status(e.Status()),
		slog.Duration("duration", e.Duration),
	}

	if e.Email != "" {
		if includePII {
			attrs = append(attrs, slog.String("user", e.Email))
		} else {
			attrs = append(attrs,
				logging.UserHash(e.Email),
				logging.Domain(e.Email))
		}
	}
	if len(e.Scopes) > 0 {
		attrs = append(attrs, slog.String(logging.KeyScopes, strings.Join(e.Scopes, ",")))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", e.SpanID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}

	return attrs
}

// AuditLogger writes credential lifecycle events to a dedicated logger.
// A nil *AuditLogger discards everything.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("component", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogCredentialEvent logs a credential lifecycle event.
func (al *AuditLogger) LogCredentialEvent(e *CredentialEvent) {
	if al == nil || !al.enabled || e == nil {
		return
	}

	attrs := e.LogAttrs(al.includePII)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if e.Success {
		al.logger.Info("credential_"+e.Event, args...)
	} else {
		al.logger.Warn("credential_"+e.Event+"_failed", args...)
	}
}
