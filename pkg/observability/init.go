// Package observability wires tracing, metrics and performance logging for
// BRICK2 components.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/metrics"
)

// Options configures Init
type Options struct {
	Config      config.ObservabilityConfig
	Version     string
	Environment string
	// TraceWriter replaces stdout as the destination of the stdout exporter
	TraceWriter io.Writer
	Logger      *zap.Logger
}

// Provider owns the tracer provider and metrics registry of one process
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	metrics *metrics.Registry
	logger  *zap.Logger
}

// Init builds the tracer and metrics registry described by opts. Disabled
// features yield a no-op tracer and a nil registry.
func Init(opts Options) (*Provider, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "brick2"
	}

	p := &Provider{
		tracer: noop.NewTracerProvider().Tracer(name),
		logger: logger.With(zap.String("component", "observability")),
	}

	if cfg.EnableMetrics {
		p.metrics = metrics.New(name)
	}

	if cfg.EnableTracing && cfg.TracingExporter != "none" {
		if err := p.initTracing(name, opts); err != nil {
			return nil, err
		}
	}

	p.logger.Info("observability initialized",
		zap.Bool("metrics", p.metrics != nil),
		zap.Bool("tracing", p.tp != nil),
		zap.Float64("sampling_rate", cfg.SamplingRate))
	return p, nil
}

func (p *Provider) initTracing(name string, opts Options) error {
	cfg := opts.Config

	var w io.Writer
	switch cfg.TracingExporter {
	case "stdout", "":
		w = os.Stdout
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported tracing exporter %q", cfg.TracingExporter)
	}
	if opts.TraceWriter != nil {
		w = opts.TraceWriter
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create stdout exporter")
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(opts.Version),
			semconv.DeploymentEnvironmentKey.String(opts.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithBatcher(exporter),
	)
	p.tracer = p.tp.Tracer(name)

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Tracer returns the process tracer
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return noop.NewTracerProvider().Tracer("brick2")
	}
	return p.tracer
}

// Metrics returns the registry, or nil when metrics are disabled
func (p *Provider) Metrics() *metrics.Registry {
	if p == nil {
		return nil
	}
	return p.metrics
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}
