// Package observer provides OTEL-based observability for vybe runs.
//
// It wraps Provider and Tool with instrumented versions, implements
// vybe.Tracer, and records durable step and run outcomes. Telemetry is
// exported over OTLP HTTP, configured by the standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/vybe/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	TokenUsage  metric.Int64Counter
	CostTotal   metric.Float64Counter
	LLMRequests metric.Int64Counter
	LLMDuration metric.Float64Histogram

	ToolExecutions metric.Int64Counter
	ToolDuration   metric.Float64Histogram

	StepExecutions metric.Int64Counter
	StepDuration   metric.Float64Histogram

	RunOutcomes metric.Int64Counter
	RunDuration metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, service string, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(service)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

// NewInstruments builds instruments on the current global providers without
// installing exporters. With no providers configured they are no-ops.
func NewInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	return newInstruments(pricing)
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	meter := otel.Meter(scopeName)
	inst := &Instruments{
		Tracer: otel.Tracer(scopeName),
		Meter:  meter,
		Logger: global.GetLoggerProvider().Logger(scopeName),
		Cost:   NewCostCalculator(pricing),
	}

	counters := []struct {
		dst        *metric.Int64Counter
		name, desc string
		unit       string
	}{
		{&inst.TokenUsage, "llm.token.usage", "Total tokens consumed", "{token}"},
		{&inst.LLMRequests, "llm.requests", "LLM request count", "{request}"},
		{&inst.ToolExecutions, "tool.executions", "Tool execution count", "{execution}"},
		{&inst.StepExecutions, "durable.step.executions", "Durable step count by outcome", "{step}"},
		{&inst.RunOutcomes, "run.outcomes", "Finished runs by outcome kind", "{run}"},
	}
	for _, c := range counters {
		v, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = v
	}

	histograms := []struct {
		dst        *metric.Float64Histogram
		name, desc string
	}{
		{&inst.LLMDuration, "llm.duration", "LLM call duration"},
		{&inst.ToolDuration, "tool.duration", "Tool execution duration"},
		{&inst.StepDuration, "durable.step.duration", "Durable step duration"},
		{&inst.RunDuration, "run.duration", "Run duration"},
	}
	for _, h := range histograms {
		v, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, err
		}
		*h.dst = v
	}

	cost, err := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	inst.CostTotal = cost
	return inst, nil
}
