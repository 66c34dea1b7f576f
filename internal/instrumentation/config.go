package instrumentation

import (
	"fmt"
	"io"
	"os"
	"strconv"
)

// Exporter types
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: jarvis)
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// ServiceInstanceID is the unique instance identifier (default: hostname)
	ServiceInstanceID string

	// Enabled determines if instrumentation is active.
	Enabled bool

	// MetricsExporter is one of prometheus, otlp or stdout.
	MetricsExporter string

	// TracingExporter is one of otlp, stdout or none.
	TracingExporter string

	// OTLPEndpoint is the OTLP collector endpoint without scheme,
	// e.g. "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure sends OTLP over plain HTTP. Local collectors only:
	// spans carry account names and scopes.
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based sampling ratio (0.0 to 1.0).
	TraceSamplingRate float64

	// DetailedLabels adds the account name to credential metrics.
	DetailedLabels bool

	// StdoutWriter receives the stdout exporters' output. Defaults to
	// os.Stderr so command output on stdout stays clean.
	StdoutWriter io.Writer

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig holds configuration for audit logging.
type AuditLoggingConfig struct {
	// Enabled determines if credential audit events are logged (default: true)
	Enabled bool

	// IncludePII controls whether the Google account email is logged in full.
	// When false (default), only a hash of it is logged.
	IncludePII bool
}

// DefaultConfig returns the built-in defaults: Prometheus metrics, no
// tracing, audit logging without PII.
func DefaultConfig() Config {
	return Config{
		ServiceName:       "jarvis",
		ServiceVersion:    "unknown",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		TraceSamplingRate: 0.1,
		AuditLogging: AuditLoggingConfig{
			Enabled: true,
		},
	}
}

// ConfigFromEnv returns DefaultConfig with the standard OpenTelemetry and
// jarvis environment variables applied. Unparseable values are errors.
func ConfigFromEnv() (Config, error) {
	c := DefaultConfig()

	c.ServiceName = getEnvOrDefault("OTEL_SERVICE_NAME", c.ServiceName)
	c.ServiceInstanceID = getEnvOrDefault("OTEL_SERVICE_INSTANCE_ID", c.ServiceInstanceID)
	c.MetricsExporter = getEnvOrDefault("METRICS_EXPORTER", c.MetricsExporter)
	c.TracingExporter = getEnvOrDefault("TRACING_EXPORTER", c.TracingExporter)
	c.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	bools := []struct {
		key string
		dst *bool
	}{
		{"INSTRUMENTATION_ENABLED", &c.Enabled},
		{"OTEL_EXPORTER_OTLP_INSECURE", &c.OTLPInsecure},
		{"METRICS_DETAILED_LABELS", &c.DetailedLabels},
		{"AUDIT_LOGGING_ENABLED", &c.AuditLogging.Enabled},
		{"AUDIT_LOGGING_INCLUDE_PII", &c.AuditLogging.IncludePII},
	}
	for _, b := range bools {
		if err := getEnvBool(b.key, b.dst); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG %q: %w", v, err)
		}
		c.TraceSamplingRate = rate
	}

	return c, c.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %g", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}
	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		return fmt.Errorf("OTLP endpoint is required for the otlp exporter; set OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return nil
}

func (c *Config) stdout() io.Writer {
	if c.StdoutWriter != nil {
		return c.StdoutWriter
	}
	return os.Stderr
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = parsed
	return nil
}
