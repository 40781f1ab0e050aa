// Package shell provides the terminal tool: shell commands executed inside
// a run's sandbox.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
	"github.com/nevindra/vybe/sandbox"
)

const defaultMaxOutput = 8000

// Tool runs commands in one sandbox, addressed by id on every call.
type Tool struct {
	provider  sandbox.Provider
	sandboxID string
	maxOutput int
}

var _ vybe.Tool = (*Tool)(nil)

// Option configures a Tool.
type Option func(*Tool)

// WithMaxOutput truncates stdout handed back to the model to n bytes.
func WithMaxOutput(n int) Option { return func(t *Tool) { t.maxOutput = n } }

// New creates the terminal tool for sandboxID.
func New(p sandbox.Provider, sandboxID string, opts ...Option) *Tool {
	t := &Tool{provider: p, sandboxID: sandboxID, maxOutput: defaultMaxOutput}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Definitions() []vybe.ToolDefinition {
	return []vybe.ToolDefinition{{
		Name:        "terminal",
		Description: "Run a shell command in the sandbox working directory. Returns stdout; on failure returns the error with stdout and stderr.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"}},"required":["command"]}`),
	}}
}

// Execute runs the command as the durable step "terminal". Command failures
// come back as an in-band diagnostic; only a vanished sandbox is an error.
func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (vybe.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return vybe.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Command == "" {
		return vybe.ToolResult{Error: "command is required"}, nil
	}

	return durable.Step(ctx, "terminal", func(ctx context.Context) (vybe.ToolResult, error) {
		return t.run(ctx, params.Command)
	})
}

func (t *Tool) run(ctx context.Context, command string) (vybe.ToolResult, error) {
	h, err := t.provider.Connect(ctx, t.sandboxID)
	if err != nil {
		if sandbox.IsGone(err) {
			return vybe.ToolResult{}, err
		}
		return vybe.ToolResult{Error: Diagnostic(command, err, sandbox.CommandResult{})}, nil
	}

	res, err := t.provider.RunCommand(ctx, h, command)
	switch {
	case sandbox.IsGone(err):
		return vybe.ToolResult{}, err
	case err != nil:
		return vybe.ToolResult{Error: Diagnostic(command, err, res)}, nil
	case res.ExitCode != 0:
		return vybe.ToolResult{Error: Diagnostic(command, fmt.Errorf("exit status %d", res.ExitCode), res)}, nil
	}

	out := truncate(res.Stdout, t.maxOutput)
	if out == "" {
		out = "(no output)"
	}
	return vybe.ToolResult{Content: out}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}

// Diagnostic formats a failed command for the model, embedding whatever
// output was captured before the failure.
func Diagnostic(command string, err error, res sandbox.CommandResult) string {
	return fmt.Sprintf("Command failed (%s) : Error: %v \nstdout: %s\nstderr: %s", command, err, res.Stdout, res.Stderr)
}
