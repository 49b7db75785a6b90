// Package tracing provides OpenTelemetry tracing integration.
//
// It installs a tracer provider with W3C propagation, an HTTP
// middleware that opens a server span per request and returns the trace
// id in the X-Trace-Id header, and a shared tracer for pipeline spans.
//
// Example usage:
//
//	import "mirrorpost/internal/observability/tracing"
//
//	func main() {
//	    shutdown, _ := tracing.InitProvider(ctx)
//	    defer shutdown(context.Background())
//	}
//
//	func process(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "pipeline.process")
//	    defer span.End()
//	}
package tracing
