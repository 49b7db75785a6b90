package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitProvider installs a tracer provider and W3C propagators for the
// process. The returned shutdown function flushes pending spans; call it
// on process exit.
//
// Span export is left to the environment (an OTLP collector sidecar or
// none at all); without an exporter spans are still generated so the
// X-Trace-Id response header works.
func InitProvider(ctx context.Context) (func(context.Context) error, error) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
