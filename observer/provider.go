package observer

import (
	"context"
	"time"

	"github.com/nevindra/vybe"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a vybe.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner vybe.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces, metrics, and logs.
func WrapProvider(inner vybe.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req vybe.ChatRequest) (vybe.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)
	o.finish(ctx, span, "chat", start, resp, err)
	return resp, err
}

func (o *ObservedProvider) ChatWithTools(ctx context.Context, req vybe.ChatRequest, tools []vybe.ToolDefinition) (vybe.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_with_tools", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.ChatWithTools(ctx, req, tools)
	span.SetAttributes(AttrToolCalls.Int(len(resp.ToolCalls)))
	o.finish(ctx, span, "chat_with_tools", start, resp, err)
	return resp, err
}

func (o *ObservedProvider) finish(ctx context.Context, span trace.Span, method string, start time.Time, resp vybe.ChatResponse, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	usage := resp.Usage
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)
	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	model := AttrLLMModel.String(o.model)
	prov := AttrLLMProvider.String(o.inner.Name())
	attrs := metric.WithAttributes(model, prov, AttrLLMMethod.String(method))

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(model, prov, attribute.String("direction", "input")))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(model, prov, attribute.String("direction", "output")))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(model, prov, AttrLLMMethod.String(method), attribute.String("status", status)))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ vybe.Provider = (*ObservedProvider)(nil)
