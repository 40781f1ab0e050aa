package vybe

import (
	"context"
	"log/slog"
)

// Agent turns a task into output messages.
type Agent interface {
	// Name returns the agent's identifier. It also prefixes the agent's
	// durable step names, so it must be stable across retries.
	Name() string
	// Description returns a human-readable description of what the agent does.
	Description() string
	// Execute runs the agent on the given task and returns what it produced.
	Execute(ctx context.Context, task AgentTask) (AgentResult, error)
}

// AgentTask is the input to an Agent.
type AgentTask struct {
	// Input is appended as a user message after History when non-empty.
	Input string
	// History is the conversation the agent continues, oldest first.
	History []ChatMessage
}

// AgentResult is the output of an Agent.
type AgentResult struct {
	// Output holds the messages produced, in order: assistant text,
	// assistant tool calls and tool results.
	Output []ChatMessage
	Usage  Usage
}

// LastAssistantText returns the text of the most recent assistant text
// message in Output.
func (r AgentResult) LastAssistantText() (string, bool) {
	for i := len(r.Output) - 1; i >= 0; i-- {
		m := r.Output[i]
		if m.Role == ChatAssistant && m.Type == MessageText {
			return m.Text(), true
		}
	}
	return "", false
}

// AgentOption configures an agent.
type AgentOption func(*agentConfig)

type agentConfig struct {
	tools   []Tool
	prompt  string
	maxIter int
	params  *GenerationParams
	tracer  Tracer
	logger  *slog.Logger
}

// WithTools adds tools to the agent.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithPrompt sets the system prompt.
func WithPrompt(s string) AgentOption {
	return func(c *agentConfig) { c.prompt = s }
}

// WithMaxIter caps the inference rounds of one Execute call. A round is one
// model call followed by the tool calls it requested.
func WithMaxIter(n int) AgentOption {
	return func(c *agentConfig) { c.maxIter = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) AgentOption {
	return func(c *agentConfig) {
		if c.params == nil {
			c.params = &GenerationParams{}
		}
		c.params.Temperature = &t
	}
}

// WithMaxTokens caps output tokens per model call.
func WithMaxTokens(n int) AgentOption {
	return func(c *agentConfig) {
		if c.params == nil {
			c.params = &GenerationParams{}
		}
		c.params.MaxTokens = &n
	}
}

// WithTracer sets the Tracer for agent and tool spans.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

func buildConfig(opts []AgentOption) agentConfig {
	var c agentConfig
	for _, o := range opts {
		o(&c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}
