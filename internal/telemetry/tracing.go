package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultServiceName = "apmd"

// Config holds the telemetry section of the configuration.
type Config struct {
	// Metrics enables the Prometheus collectors. Defaults to true.
	Metrics *bool `yaml:"metrics"`

	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OTLP/HTTP trace export. Tracing is disabled when
// Endpoint is empty.
type TracingConfig struct {
	// Endpoint is the collector URL, e.g. "http://localhost:4318".
	Endpoint    string            `yaml:"endpoint"`
	Headers     map[string]string `yaml:"headers"`
	ServiceName string            `yaml:"service_name"`

	// SampleRatio is the fraction of root traces sampled. Defaults to 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults fills zero values.
func (c *Config) Defaults() {
	if c.Metrics == nil {
		t := true
		c.Metrics = &t
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultServiceName
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}

// MetricsEnabled reports whether metrics are enabled.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("telemetry: tracing.sample_ratio must be within [0, 1], got %g", c.Tracing.SampleRatio)
	}
	return nil
}

// Tracing owns the global tracer provider installed by SetupTracing.
type Tracing struct {
	provider *sdktrace.TracerProvider
	logger   *slog.Logger
}

// SetupTracing installs a global OTLP/HTTP tracer provider. When tracing is
// disabled it returns a Tracing whose Stop is a no-op and leaves the global
// no-op provider in place.
func SetupTracing(ctx context.Context, cfg TracingConfig, version string, logger *slog.Logger) (*Tracing, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracing{logger: logger.With("component", "telemetry")}
	if cfg.Endpoint == "" {
		return t, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.Endpoint)}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("service.version", version),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "service", name, "sample_ratio", ratio)
	return t, nil
}

// Enabled reports whether spans are exported.
func (t *Tracing) Enabled() bool {
	return t.provider != nil
}

// Stop implements core.Stopper. It flushes pending spans.
func (t *Tracing) Stop(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
	}
	return nil
}
