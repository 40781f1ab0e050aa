package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tool outcome labels.
const (
	toolOK      = "ok"
	toolFailed  = "tool_error" // in-band failure the agent sees
	toolAborted = "error"      // fatal, aborts the round
)

// ObservedTool instruments a sandbox tool. Every call is tagged with the
// sandbox it runs against and, when running under a durable executor, the
// run id and step scope so spans can be joined with the step journal.
type ObservedTool struct {
	inner vybe.Tool
	inst  *Instruments
	fixed []attribute.KeyValue
}

// WrapTool returns an instrumented tool. attrs are attached to every span,
// metric and log record it produces, e.g. AttrSandboxID.
func WrapTool(inner vybe.Tool, inst *Instruments, attrs ...attribute.KeyValue) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst, fixed: attrs}
}

func (o *ObservedTool) Definitions() []vybe.ToolDefinition {
	return o.inner.Definitions()
}

// callAttrs describes one call: the tool name, the fixed attributes and the
// durable position of the call.
func (o *ObservedTool) callAttrs(ctx context.Context, name string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(o.fixed)+3)
	attrs = append(attrs, AttrToolName.String(name))
	attrs = append(attrs, o.fixed...)
	if ex := durable.FromContext(ctx); ex != nil {
		attrs = append(attrs, AttrRunID.String(ex.RunID()))
	}
	if scope := durable.Scope(ctx); scope != "" {
		attrs = append(attrs, AttrStepName.String(scope))
	}
	return attrs
}

func (o *ObservedTool) Execute(ctx context.Context, name string, args json.RawMessage) (vybe.ToolResult, error) {
	attrs := o.callAttrs(ctx, name)
	ctx, span := o.inst.Tracer.Start(ctx, "tool."+name, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	result, err := o.inner.Execute(ctx, name, args)
	elapsed := time.Since(start)

	status := toolOK
	switch {
	case err != nil:
		status = toolAborted
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Error != "":
		status = toolFailed
	}
	size := len(result.String())
	span.SetAttributes(AttrToolStatus.String(status), AttrToolResultLength.Int(size))

	// Metric labels stay low-cardinality: sandbox ids and scopes go to
	// spans and logs only.
	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(AttrToolName.String(name), attribute.String("status", status)))
	o.inst.ToolDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(AttrToolName.String(name)))

	o.inst.Logger.Emit(ctx, toolRecord(attrs, status, size, elapsed))
	return result, err
}

func toolRecord(attrs []attribute.KeyValue, status string, size int, elapsed time.Duration) otellog.Record {
	var rec otellog.Record
	sev := otellog.SeverityInfo
	if status == toolAborted {
		sev = otellog.SeverityError
	}
	rec.SetSeverity(sev)
	rec.SetBody(otellog.StringValue("sandbox tool call"))
	for _, kv := range attrs {
		rec.AddAttributes(otellog.String(string(kv.Key), kv.Value.Emit()))
	}
	rec.AddAttributes(
		otellog.String(string(AttrToolStatus), status),
		otellog.Int(string(AttrToolResultLength), size),
		otellog.Int64("tool.duration_ms", elapsed.Milliseconds()),
	)
	return rec
}

var _ vybe.Tool = (*ObservedTool)(nil)
