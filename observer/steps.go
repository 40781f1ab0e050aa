package observer

import (
	"context"
	"strings"
	"time"

	"github.com/nevindra/vybe/durable"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// Step outcomes recorded on durable.step.executions.
const (
	StepExecuted = "executed"
	StepReplayed = "replayed"
	StepFailed   = "failed"
)

// StepHooks records durable step outcomes as metrics and log records.
type StepHooks struct {
	inst *Instruments
}

// NewStepHooks returns durable.Hooks backed by inst.
func NewStepHooks(inst *Instruments) *StepHooks {
	return &StepHooks{inst: inst}
}

func (h *StepHooks) StepFinished(ctx context.Context, ev durable.StepEvent) {
	outcome := StepExecuted
	switch {
	case ev.Err != nil:
		outcome = StepFailed
	case ev.Replayed:
		outcome = StepReplayed
	}

	// Full names embed iteration numbers; metrics carry the leaf only.
	leaf := ev.Name[strings.LastIndexByte(ev.Name, '/')+1:]
	attrs := metric.WithAttributes(AttrStepName.String(leaf), AttrStepOutcome.String(outcome))
	h.inst.StepExecutions.Add(ctx, 1, attrs)
	h.inst.StepDuration.Record(ctx, float64(ev.Duration.Milliseconds()), attrs)

	sev := otellog.SeverityDebug
	if ev.Err != nil {
		sev = otellog.SeverityWarn
	}
	var rec otellog.Record
	rec.SetSeverity(sev)
	rec.SetBody(otellog.StringValue("durable step finished"))
	rec.AddAttributes(
		otellog.String("run.id", ev.RunID),
		otellog.String("durable.step", ev.Name),
		otellog.String("durable.outcome", outcome),
		otellog.Float64("durable.duration_ms", float64(ev.Duration.Milliseconds())),
	)
	if ev.Err != nil {
		rec.AddAttributes(otellog.String("error", ev.Err.Error()))
	}
	h.inst.Logger.Emit(ctx, rec)
}

// RecordRun records a finished run by outcome kind ("result", "error" or
// "failed" for runs that ended in a Go error).
func (i *Instruments) RecordRun(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(AttrRunOutcome.String(outcome))
	i.RunOutcomes.Add(ctx, 1, attrs)
	i.RunDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}

var _ durable.Hooks = (*StepHooks)(nil)
