package observe

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/parley"

// propagator carries W3C trace context across HTTP hops in both directions.
var propagator = propagation.TraceContext{}

type interviewKey struct{}

// Tracer returns the Parley tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must end it. When ctx carries an
// interview ID, the span is tagged with it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := InterviewID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(Attr("interview.id", id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// Browsers and the backend quote it when reporting problems.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// InjectTraceContext writes the traceparent of ctx into h so the interview
// backend can join the candidate's trace.
func InjectTraceContext(ctx context.Context, h http.Header) {
	propagator.Inject(ctx, propagation.HeaderCarrier(h))
}

// WithInterview returns a context tagged with an interview ID. Spans started
// and loggers derived from it carry the ID.
func WithInterview(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, interviewKey{}, id)
}

// InterviewID returns the ID set by [WithInterview], or "".
func InterviewID(ctx context.Context) string {
	id, _ := ctx.Value(interviewKey{}).(string)
	return id
}

// Logger returns the default logger enriched with the interview ID and the
// trace and span IDs found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := InterviewID(ctx); id != "" {
		l = l.With(slog.String("interview", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
