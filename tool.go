package vybe

import (
	"context"
	"encoding/json"
)

// Tool defines an agent capability with one or more tool functions.
//
// Execute reports ordinary failures in-band through ToolResult so the model
// can read and react to them. A non-nil error means the run cannot continue
// (for example the sandbox is gone) and aborts the agent turn.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// String renders the result as the text handed back to the model.
func (r ToolResult) String() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Content
}

// ToolRegistry holds registered tools and dispatches execution by name.
type ToolRegistry struct {
	tools []Tool
	index map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{index: make(map[string]Tool)}
}

// Add registers a tool. A later tool defining an existing name shadows it.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
	for _, d := range t.Definitions() {
		r.index[d.Name] = t
	}
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Execute dispatches a tool call by name. Unknown names are an in-band error.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	t, ok := r.index[name]
	if !ok {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	return t.Execute(ctx, name, args)
}
