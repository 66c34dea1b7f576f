package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the OpenTelemetry meter and tracer providers. A disabled
// Provider hands out a no-op Metrics recorder and installs nothing globally.
type Provider struct {
	metrics  *Metrics
	registry *promclient.Registry

	// shutdown funcs in reverse start order
	shutdown []func(context.Context) error
}

// NewProvider builds the exporters selected by config and installs the
// resulting providers as the otel globals.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if !config.Enabled {
		return &Provider{metrics: &Metrics{}}, nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res, err := newResource(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{}

	reader, err := p.newMetricReader(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	p.shutdown = append(p.shutdown, mp.Shutdown)

	if config.TracingExporter == "" || config.TracingExporter == ExporterNone {
		otel.SetTracerProvider(noop.NewTracerProvider())
	} else {
		exporter, err := newSpanExporter(ctx, config)
		if err != nil {
			err = fmt.Errorf("failed to initialize tracer provider: %w", err)
			return nil, errors.Join(err, p.Shutdown(ctx))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.TraceSamplingRate))),
		)
		p.shutdown = append([]func(context.Context) error{tp.Shutdown}, p.shutdown...)
		otel.SetTracerProvider(tp)
	}
	otel.SetMeterProvider(mp)

	p.metrics, err = NewMetrics(mp.Meter(config.ServiceName), config.DetailedLabels)
	if err != nil {
		err = fmt.Errorf("failed to create metrics recorder: %w", err)
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	return p, nil
}

func newResource(ctx context.Context, config Config) (*resource.Resource, error) {
	instance := config.ServiceInstanceID
	if instance == "" {
		instance, _ = os.Hostname()
	}
	attrs := resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	)
	if instance == "" {
		return resource.New(ctx, attrs)
	}
	return resource.New(ctx, attrs, resource.WithAttributes(semconv.ServiceInstanceID(instance)))
}

// newMetricReader returns the reader for the configured exporter. The
// Prometheus exporter registers on a private registry served by
// MetricsHandler.
func (p *Provider) newMetricReader(ctx context.Context, config Config) (sdkmetric.Reader, error) {
	switch config.MetricsExporter {
	case "", ExporterPrometheus:
		reg := promclient.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.registry = reg
		return exporter, nil

	case ExporterOTLP:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(config.OTLPEndpoint)}
		if config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter), nil

	case ExporterStdout:
		slog.Warn("stdout metrics exporter enabled, for debugging only", slog.String("component", "instrumentation"))
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(config.stdout()))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter), nil
	}
	return nil, fmt.Errorf("unsupported metrics exporter: %s", config.MetricsExporter)
}

func newSpanExporter(ctx context.Context, config Config) (sdktrace.SpanExporter, error) {
	switch config.TracingExporter {
	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
		if config.OTLPInsecure {
			slog.Warn("OTLP traces sent without TLS, spans carry account names",
				slog.String("component", "instrumentation"),
				slog.String("endpoint", config.OTLPEndpoint))
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		return exporter, nil

	case ExporterStdout:
		slog.Warn("stdout trace exporter enabled, for debugging only", slog.String("component", "instrumentation"))
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(config.stdout()))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil
	}
	return nil, fmt.Errorf("unsupported tracing exporter: %s", config.TracingExporter)
}

// Metrics returns the recorder. Never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// MetricsHandler serves the Prometheus registry, or returns nil when metrics
// are not exported through Prometheus.
func (p *Provider) MetricsHandler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Enabled reports whether any exporter is running.
func (p *Provider) Enabled() bool {
	return len(p.shutdown) > 0
}

// Shutdown flushes pending telemetry and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
