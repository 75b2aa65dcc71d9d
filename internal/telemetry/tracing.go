// Package telemetry installs the OpenTelemetry tracer provider that records
// one span per scan run.
package telemetry

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
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/JakeFAU/tablescan"

// Span exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config selects the service name, exporter and sampling of the provider.
type Config struct {
	ServiceName string
	// Exporter is ExporterNone (or empty) to keep spans in-process only, or
	// ExporterStdout to print finished spans as JSON.
	Exporter string
	// SampleRate is the fraction of new traces recorded; <= 0 records none.
	SampleRate float64
	// Writer receives stdout exports; defaults to os.Stderr so results on
	// stdout stay clean.
	Writer io.Writer
}

// InitTracerProvider builds a tracer provider, installs it and the W3C
// propagators globally, and returns it for shutdown. Extra options are applied
// last, which lets tests attach a span recorder.
func InitTracerProvider(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tablescan"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}
	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		base = append(base, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("unknown span exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(append(base, opts...)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the tracer used for run spans. It follows whatever provider
// is installed globally at call time.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
