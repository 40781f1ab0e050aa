package vybe

import "context"

// Tracer creates spans for runs, network iterations, agent turns and tool calls.
// The observer package provides an OTEL-backed implementation via NewTracer().
// A nil Tracer disables span creation.
type Tracer interface {
	// Start creates a new span and returns a child context carrying it.
	// Callers must call Span.End() when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Event(name string, attrs ...SpanAttr)
	// Error records err on the span and marks it failed.
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr          { return SpanAttr{Key: k, Value: v} }
func IntAttr(k string, v int) SpanAttr         { return SpanAttr{Key: k, Value: v} }
func BoolAttr(k string, v bool) SpanAttr       { return SpanAttr{Key: k, Value: v} }
func Float64Attr(k string, v float64) SpanAttr { return SpanAttr{Key: k, Value: v} }

// startSpan starts a span when t is non-nil. The returned span is never nil.
func startSpan(ctx context.Context, t Tracer, name string, attrs ...SpanAttr) (context.Context, Span) {
	if t == nil {
		return ctx, noopSpan{}
	}
	return t.Start(ctx, name, attrs...)
}

type noopSpan struct{}

func (noopSpan) SetAttr(...SpanAttr)       {}
func (noopSpan) Event(string, ...SpanAttr) {}
func (noopSpan) Error(error)               {}
func (noopSpan) End()                      {}
