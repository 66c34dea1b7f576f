package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrOutcome   = "outcome"
	attrAccount   = "account"
)

// Google service names used as metric labels.
const (
	ServiceGmail    = "gmail"
	ServiceCalendar = "calendar"
)

// Google API operation types used as metric labels.
const (
	OperationList     = "list"
	OperationGet      = "get"
	OperationCreate   = "create"
	OperationSend     = "send"
	OperationSearch   = "search"
	OperationFreeBusy = "freebusy"
)

// Operation status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Refresh and consent results.
const (
	ResultSuccess       = "success"
	ResultDenied        = "denied"
	ResultTransient     = "transient"
	ResultUnrecoverable = "unrecoverable"
)

// Metrics records credential and Google API metrics. A nil *Metrics or a
// zero Metrics is a valid no-op recorder.
type Metrics struct {
	// Credential metrics
	acquireTotal    metric.Int64Counter
	acquireDuration metric.Float64Histogram
	refreshTotal    metric.Int64Counter
	consentTotal    metric.Int64Counter

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// detailedLabels adds the account to credential metrics
	detailedLabels bool
	account        string
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.acquireTotal, err = meter.Int64Counter(
		"oauth_credential_acquire_total",
		metric.WithDescription("Total number of credential acquisitions by outcome"),
		metric.WithUnit("{acquisition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_credential_acquire_total counter: %w", err)
	}

	m.acquireDuration, err = meter.Float64Histogram(
		"oauth_credential_acquire_duration_seconds",
		metric.WithDescription("Credential acquisition duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0, 300.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_credential_acquire_duration_seconds histogram: %w", err)
	}

	m.refreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.consentTotal, err = meter.Int64Counter(
		"oauth_consent_total",
		metric.WithDescription("Total number of interactive consent flows"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_consent_total counter: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// ForAccount returns a recorder that labels credential metrics with account
// when detailed labels are enabled.
func (m *Metrics) ForAccount(account string) *Metrics {
	if m == nil {
		return nil
	}
	c := *m
	c.account = account
	return &c
}

func (m *Metrics) credentialAttrs(key, value string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(key, value)}
	if m.detailedLabels && m.account != "" {
		attrs = append(attrs, attribute.String(attrAccount, m.account))
	}
	return attrs
}

// RecordCredentialAcquire records one Acquire call.
// Outcome is one of "cached", "refreshed", "consented", "error".
func (m *Metrics) RecordCredentialAcquire(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil || m.acquireTotal == nil || m.acquireDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := m.credentialAttrs(attrOutcome, outcome)
	m.acquireTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.acquireDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTokenRefresh records a refresh attempt.
// Result is one of "success", "transient", "unrecoverable".
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.refreshTotal == nil {
		return // Instrumentation not initialized
	}
	m.refreshTotal.Add(ctx, 1, metric.WithAttributes(m.credentialAttrs(attrResult, result)...))
}

// RecordConsent records an interactive consent flow.
// Result is one of "success", "denied", "transient", "unrecoverable".
func (m *Metrics) RecordConsent(ctx context.Context, result string) {
	if m == nil || m.consentTotal == nil {
		return // Instrumentation not initialized
	}
	m.consentTotal.Add(ctx, 1, metric.WithAttributes(m.credentialAttrs(attrResult, result)...))
}

// RecordGoogleAPIOperation records a Google API operation with service, operation,
// status, and duration.
//
// Parameters:
//   - service: Google service name (gmail, calendar)
//   - operation: Operation type (list, search, send, create, ...)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
