// Package instrumentation wires OpenTelemetry into the credential manager and
// the Gmail and Calendar clients, and writes the credential audit log.
//
// Metric names:
//
//	oauth_credential_acquire_total{outcome}          cached, refreshed, consented, error
//	oauth_credential_acquire_duration_seconds{outcome}
//	oauth_token_refresh_total{result}
//	oauth_consent_total{result}
//	google_api_operations_total{service,operation,status}
//	google_api_operation_duration_seconds{service,operation,status}
//
// With METRICS_DETAILED_LABELS=true the credential metrics also carry the
// local account name. Email addresses never become labels.
//
// Spans: credentials.acquire, credentials.refresh, credentials.consent and
// one client span per Google call, named google.<service>.<operation>.
//
// Environment (read by ConfigFromEnv):
//
//	INSTRUMENTATION_ENABLED        default true
//	METRICS_EXPORTER               prometheus (default), otlp, stdout
//	TRACING_EXPORTER               none (default), otlp, stdout
//	OTEL_EXPORTER_OTLP_ENDPOINT    host:port of the collector
//	OTEL_EXPORTER_OTLP_INSECURE    plain HTTP to the collector
//	OTEL_TRACES_SAMPLER_ARG        sampling ratio, default 0.1
//	OTEL_SERVICE_NAME              default jarvis
//	METRICS_DETAILED_LABELS        account label on credential metrics
//	AUDIT_LOGGING_ENABLED          default true
//	AUDIT_LOGGING_INCLUDE_PII      log full emails instead of hashes
//
// Typical setup:
//
//	cfg, err := instrumentation.ConfigFromEnv()
//	if err != nil {
//		return err
//	}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	if h := provider.MetricsHandler(); h != nil {
//		mux.Handle("/metrics", h)
//	}
package instrumentation
