// File: internal/observability/tracing.go
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/tablecast/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xkilldash9x/tablecast"

// TracerProvider owns the span exporter and whatever file it writes to.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	sink     io.Closer
}

// InitTracing installs a global tracer provider exporting spans as JSON to
// stderr or to the file named by cfg.Output. When tracing is disabled it
// returns a provider whose Shutdown is a no-op and leaves otel's no-op
// tracer in place.
func InitTracing(cfg config.TracingConfig, serviceName, version string) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	var (
		w    io.Writer = os.Stderr
		sink io.Closer
	)
	if cfg.Output != "" && cfg.Output != "stderr" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace output %q: %w", cfg.Output, err)
		}
		w, sink = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, sink: sink}, nil
}

// Shutdown flushes pending spans and closes the output file.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	err := tp.provider.Shutdown(ctx)
	if tp.sink != nil {
		if cerr := tp.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Tracer returns the tablecast tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name as a child of any span in ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span attribute keys shared by the pipeline and its front ends.
var (
	AttrRequestID = attribute.Key("tablecast.request.id")
	AttrSessionID = attribute.Key("tablecast.session.id")
	AttrStep      = attribute.Key("tablecast.step")
	AttrStrategy  = attribute.Key("tablecast.extract.strategy")
	AttrStyled    = attribute.Key("tablecast.style.applied")
	AttrErrorKind = attribute.Key("tablecast.error.kind")
)
