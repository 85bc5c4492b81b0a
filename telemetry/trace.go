package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext bridges an OpenTelemetry span to structured logging, so a
// log line can carry the trace_id/span_id a reader would otherwise have
// to correlate by hand.
type TraceContext struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// GetTraceContext extracts the active span's identifiers, or a zero value
// if ctx carries no valid span.
func GetTraceContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceContext{}
	}
	return TraceContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String(), Sampled: sc.IsSampled()}
}

// HasTraceContext reports whether ctx carries a valid span context.
func HasTraceContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	return trace.SpanFromContext(ctx).SpanContext().IsValid()
}

// AddSpanEvent records a named point-in-time event on the active span.
// Safe to call with no span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records err on the active span and marks it failed.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes adds attributes to the active span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// SetSpanStatus sets the active span's status, for paths that succeed or
// fail without going through RecordSpanError.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	if ctx == nil {
		return
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// StartLinkedSpan starts a span linked to a trace/span id pair recovered
// from durable storage, restoring trace continuity across an async
// boundary — e.g. a coordinator worker resuming a request whose
// originating span ended before the worker process started. An empty or
// malformed traceID/parentSpanID still yields a valid, unlinked span.
func StartLinkedSpan(ctx context.Context, name, traceID, parentSpanID string, attrs map[string]string) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	tracer := otel.Tracer("gomind-refine/telemetry")

	var opts []trace.SpanStartOption
	if tid, err1 := trace.TraceIDFromHex(traceID); err1 == nil {
		if sid, err2 := trace.SpanIDFromHex(parentSpanID); err2 == nil {
			parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, Remote: true})
			opts = append(opts, trace.WithLinks(trace.Link{
				SpanContext: parent,
				Attributes:  []attribute.KeyValue{attribute.String("link.type", "async_resume")},
			}))
		}
	}

	ctx, span := tracer.Start(ctx, name, opts...)
	for k, v := range attrs {
		span.SetAttributes(attribute.String(k, v))
	}
	return ctx, span.End
}
