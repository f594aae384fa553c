package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// scopeName is the instrumentation scope all bot spans are recorded under.
const scopeName = "github.com/calebtt/SipBotOpen"

// Tracer returns the bot tracer from the globally registered provider.
func Tracer() trace.Tracer { return otel.Tracer(scopeName) }

// StartSpan opens a span for one operation. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the active trace ID, the handle handed back to ops
// clients in X-Correlation-ID. Empty when ctx carries no recording span.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the active trace and span
// IDs so log lines from one request group under one trace. Without an
// active span it is plain [slog.Default].
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
