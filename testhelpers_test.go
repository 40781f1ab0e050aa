package vybe

import (
	"context"
	"encoding/json"
	"sync"
)

// mockProvider returns scripted responses in order and records requests.
// After the script runs out it repeats the last response.
type mockProvider struct {
	mu        sync.Mutex
	name      string
	responses []ChatResponse
	err       error
	requests  []ChatRequest
	tools     [][]ToolDefinition
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return m.ChatWithTools(ctx, req, nil)
}

func (m *mockProvider) ChatWithTools(_ context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.tools = append(m.tools, tools)
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return ChatResponse{}, nil
	}
	i := len(m.requests) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// --- Tool mocks ---

// mockTool records calls and answers every call with its name and args.
type mockTool struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{Name: "echo", Description: "echo args", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "write", Description: "write file", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
}

func (m *mockTool) Execute(_ context.Context, name string, args json.RawMessage) (ToolResult, error) {
	m.mu.Lock()
	m.names = append(m.names, name)
	m.mu.Unlock()
	if m.err != nil {
		return ToolResult{}, m.err
	}
	return ToolResult{Content: name + ":" + string(args)}, nil
}

// stubAgent returns a scripted AgentResult per call, running hook first.
type stubAgent struct {
	name    string
	outputs []AgentResult
	hook    func(call int, task AgentTask)
	err     error
	calls   int
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return "stub" }

func (s *stubAgent) Execute(_ context.Context, task AgentTask) (AgentResult, error) {
	call := s.calls
	s.calls++
	if s.hook != nil {
		s.hook(call, task)
	}
	if s.err != nil {
		return AgentResult{}, s.err
	}
	if len(s.outputs) == 0 {
		return AgentResult{Output: []ChatMessage{AssistantMessage("working")}}, nil
	}
	if call >= len(s.outputs) {
		call = len(s.outputs) - 1
	}
	return s.outputs[call], nil
}

func toolCall(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}
