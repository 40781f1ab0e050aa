package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
)

type mockProvider struct {
	name     string
	chatResp vybe.ChatResponse
	chatErr  error
	gotTools []vybe.ToolDefinition
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Chat(_ context.Context, _ vybe.ChatRequest) (vybe.ChatResponse, error) {
	return m.chatResp, m.chatErr
}
func (m *mockProvider) ChatWithTools(_ context.Context, _ vybe.ChatRequest, tools []vybe.ToolDefinition) (vybe.ChatResponse, error) {
	m.gotTools = tools
	return m.chatResp, m.chatErr
}

type mockTool struct {
	defs   []vybe.ToolDefinition
	result vybe.ToolResult
	err    error
}

func (m *mockTool) Definitions() []vybe.ToolDefinition { return m.defs }
func (m *mockTool) Execute(_ context.Context, _ string, _ json.RawMessage) (vybe.ToolResult, error) {
	return m.result, m.err
}

// testInstruments builds instruments on the default no-op global providers.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestObservedProviderName(t *testing.T) {
	op := WrapProvider(&mockProvider{name: "deepseek"}, "deepseek-chat", testInstruments(t))
	if got := op.Name(); got != "deepseek" {
		t.Errorf("Name() = %q, want %q", got, "deepseek")
	}
}

func TestObservedProviderChat(t *testing.T) {
	want := vybe.ChatResponse{
		Content: "hello from LLM",
		Usage:   vybe.Usage{InputTokens: 10, OutputTokens: 5},
	}
	op := WrapProvider(&mockProvider{name: "p", chatResp: want}, "m", testInstruments(t))

	got, err := op.Chat(context.Background(), vybe.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.Usage != want.Usage {
		t.Errorf("Usage = %+v, want %+v", got.Usage, want.Usage)
	}
}

func TestObservedProviderChatError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	op := WrapProvider(&mockProvider{name: "p", chatErr: wantErr}, "m", testInstruments(t))

	_, err := op.Chat(context.Background(), vybe.ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Chat error = %v, want %v", err, wantErr)
	}
}

func TestObservedProviderChatWithTools(t *testing.T) {
	want := vybe.ChatResponse{
		ToolCalls: []vybe.ToolCall{
			{ID: "call-1", Name: "terminal", Args: json.RawMessage(`{"command":"ls"}`)},
		},
		Usage: vybe.Usage{InputTokens: 20, OutputTokens: 15},
	}
	inner := &mockProvider{name: "p", chatResp: want}
	op := WrapProvider(inner, "m", testInstruments(t))

	tools := []vybe.ToolDefinition{{Name: "terminal", Description: "run a command"}}
	got, err := op.ChatWithTools(context.Background(), vybe.ChatRequest{}, tools)
	if err != nil {
		t.Fatalf("ChatWithTools: %v", err)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "terminal" {
		t.Fatalf("ToolCalls = %+v", got.ToolCalls)
	}
	if len(inner.gotTools) != 1 {
		t.Errorf("inner saw %d tools, want 1", len(inner.gotTools))
	}
}

func TestObservedToolDefinitions(t *testing.T) {
	defs := []vybe.ToolDefinition{
		{Name: "terminal", Description: "run a command"},
		{Name: "readFiles", Description: "read files"},
	}
	ot := WrapTool(&mockTool{defs: defs}, testInstruments(t))

	got := ot.Definitions()
	if len(got) != len(defs) {
		t.Fatalf("Definitions length = %d, want %d", len(got), len(defs))
	}
	for i, d := range got {
		if d.Name != defs[i].Name {
			t.Errorf("Definitions[%d].Name = %q, want %q", i, d.Name, defs[i].Name)
		}
	}
}

func TestObservedToolExecute(t *testing.T) {
	ot := WrapTool(&mockTool{result: vybe.ToolResult{Content: "ok"}}, testInstruments(t))

	got, err := ot.Execute(context.Background(), "terminal", json.RawMessage(`{"command":"ls"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Content != "ok" || got.Error != "" {
		t.Errorf("result = %+v", got)
	}
}

func TestObservedToolInBandErrorPassesThrough(t *testing.T) {
	ot := WrapTool(&mockTool{result: vybe.ToolResult{Error: "Command failed"}}, testInstruments(t))

	got, err := ot.Execute(context.Background(), "terminal", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Error != "Command failed" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestObservedToolExecuteError(t *testing.T) {
	wantErr := errors.New("sandbox gone")
	ot := WrapTool(&mockTool{err: wantErr}, testInstruments(t))

	_, err := ot.Execute(context.Background(), "terminal", json.RawMessage(`{}`))
	if !errors.Is(err, wantErr) {
		t.Errorf("Execute error = %v, want %v", err, wantErr)
	}
}

func TestTracerSpans(t *testing.T) {
	tr := NewTracer()
	ctx, span := tr.Start(context.Background(), "run",
		vybe.StringAttr("run.id", "job-1"),
		vybe.IntAttr("iteration", 2),
		vybe.BoolAttr("replayed", true),
		vybe.Float64Attr("cost", 0.5),
	)
	if ctx == nil {
		t.Fatal("nil context")
	}
	span.SetAttr(vybe.StringAttr("k", "v"))
	span.Event("marker", vybe.IntAttr("n", 1))
	span.Error(errors.New("boom"))
	span.End()
}

func TestToOTELAttr(t *testing.T) {
	tests := []struct {
		in   vybe.SpanAttr
		want string
	}{
		{vybe.StringAttr("a", "x"), "x"},
		{vybe.IntAttr("a", 3), "3"},
		{vybe.SpanAttr{Key: "a", Value: int64(4)}, "4"},
		{vybe.BoolAttr("a", true), "true"},
		{vybe.SpanAttr{Key: "a", Value: []int{1}}, "[1]"},
	}
	for _, tt := range tests {
		got := toOTELAttr(tt.in)
		if string(got.Key) != "a" {
			t.Errorf("key = %q", got.Key)
		}
		if got.Value.Emit() != tt.want {
			t.Errorf("value = %q, want %q", got.Value.Emit(), tt.want)
		}
	}
}

func TestStepHooks(t *testing.T) {
	inst := testInstruments(t)
	h := NewStepHooks(inst)
	ctx := context.Background()

	// Exercises every outcome branch; the no-op providers accept all records.
	h.StepFinished(ctx, durable.StepEvent{RunID: "r", Name: "iteration-1/code-agent/round-0/infer", Duration: time.Millisecond})
	h.StepFinished(ctx, durable.StepEvent{RunID: "r", Name: "get-sandbox-id", Replayed: true})
	h.StepFinished(ctx, durable.StepEvent{RunID: "r", Name: "save-result", Err: errors.New("db down")})
	inst.RecordRun(ctx, "result", time.Second)
}

func TestObservedToolCallAttrs(t *testing.T) {
	ot := WrapTool(&mockTool{}, testInstruments(t), AttrSandboxID.String("3f2a9c1b7d4e"))

	bare := ot.callAttrs(context.Background(), "terminal")
	if len(bare) != 2 {
		t.Fatalf("attrs outside a run = %v, want tool name and sandbox id", bare)
	}

	ctx := durable.WithExecutor(context.Background(), durable.New(durable.NewMemoryStore(), "p1/job-1"))
	ctx = durable.WithScope(ctx, "iteration-1/code-agent/round-0/call-0")
	got := map[string]string{}
	for _, kv := range ot.callAttrs(ctx, "terminal") {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"tool.name":    "terminal",
		"sandbox.id":   "3f2a9c1b7d4e",
		"run.id":       "p1/job-1",
		"durable.step": "iteration-1/code-agent/round-0/call-0",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	res, err := ot.Execute(ctx, "terminal", json.RawMessage(`{}`))
	if err != nil || res.Error != "" {
		t.Errorf("Execute = %+v, %v", res, err)
	}
}
