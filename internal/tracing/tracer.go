package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "memgraph"

// Start creates a new OTel span as a child of the span in ctx, or a root
// span when ctx carries no active span. The caller MUST call span.End()
// when the operation is done (typically via defer span.End()).
//
// When no TracerProvider is registered (tests, local dev without OTel) the
// global no-op provider is used and all calls are inert.
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}
