package codeagent

import (
	"context"
	"log/slog"

	"github.com/nevindra/vybe"
)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

type noopSpan struct{}

var _ vybe.Span = noopSpan{}

func (noopSpan) SetAttr(...vybe.SpanAttr)       {}
func (noopSpan) Event(string, ...vybe.SpanAttr) {}
func (noopSpan) Error(error)                    {}
func (noopSpan) End()                           {}
