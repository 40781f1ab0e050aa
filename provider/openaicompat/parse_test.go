package openaicompat

import (
	"encoding/json"
	"testing"
)

func decodeResponse(t *testing.T, raw string) ChatResponse {
	t.Helper()
	var resp ChatResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestParseResponse_StringContent(t *testing.T) {
	resp := decodeResponse(t, `{
		"id": "chatcmpl-1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18}
	}`)

	out, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if out.Content != "Hello!" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Parts != nil {
		t.Errorf("parts = %+v, want nil", out.Parts)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 8 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestParseResponse_PartsContent(t *testing.T) {
	resp := decodeResponse(t, `{
		"choices": [{"message": {"role": "assistant", "content": [
			{"type": "text", "text": "Done. "},
			{"type": "image_url"},
			{"type": "text", "text": "<task_summary>ok</task_summary>"}
		]}}]
	}`)

	out, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(out.Parts) != 2 {
		t.Fatalf("parts = %+v, want 2 text parts", out.Parts)
	}
	if out.Content != "Done. <task_summary>ok</task_summary>" {
		t.Errorf("content = %q", out.Content)
	}
}

func TestParseResponse_NullContentWithToolCalls(t *testing.T) {
	resp := decodeResponse(t, `{
		"choices": [{"message": {"role": "assistant", "content": null, "tool_calls": [
			{"id": "call_abc", "type": "function", "function": {"name": "terminal", "arguments": "{\"command\":\"npm i\"}"}},
			{"id": "call_def", "type": "function", "function": {"name": "readFiles", "arguments": "not json"}}
		]}}]
	}`)

	out, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if out.Content != "" {
		t.Errorf("content = %q, want empty", out.Content)
	}
	if len(out.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(out.ToolCalls))
	}
	if out.ToolCalls[0].ID != "call_abc" || out.ToolCalls[0].Name != "terminal" {
		t.Errorf("tool call 0 = %+v", out.ToolCalls[0])
	}
	if string(out.ToolCalls[0].Args) != `{"command":"npm i"}` {
		t.Errorf("args = %s", out.ToolCalls[0].Args)
	}
	if string(out.ToolCalls[1].Args) != `{}` {
		t.Errorf("invalid args should become {}, got %s", out.ToolCalls[1].Args)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	out, err := ParseResponse(ChatResponse{Usage: &Usage{PromptTokens: 3}})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if out.Content != "" || out.ToolCalls != nil {
		t.Errorf("out = %+v", out)
	}
	if out.Usage.InputTokens != 3 {
		t.Errorf("usage should be kept without choices, got %+v", out.Usage)
	}
}

func TestParseResponse_UnexpectedContent(t *testing.T) {
	resp := decodeResponse(t, `{"choices": [{"message": {"content": 42}}]}`)
	if _, err := ParseResponse(resp); err == nil {
		t.Fatal("expected error for numeric content")
	}
}

func TestParseToolCalls_Empty(t *testing.T) {
	if got := ParseToolCalls(nil); got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}
