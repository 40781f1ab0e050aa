package vybe

import "testing"

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  ChatMessage
		role string
		typ  MessageType
	}{
		{SystemMessage("you build apps"), ChatSystem, MessageText},
		{UserMessage("hello"), ChatUser, MessageText},
		{AssistantMessage("sure thing"), ChatAssistant, MessageText},
		{ToolResultMessage("call-1", "result data"), ChatTool, MessageToolResult},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.role || tt.msg.Type != tt.typ {
			t.Errorf("%+v: want role %q type %q", tt.msg, tt.role, tt.typ)
		}
		if len(tt.msg.ToolCalls) != 0 {
			t.Errorf("%+v: unexpected tool calls", tt.msg)
		}
	}
	if m := ToolResultMessage("call-1", "result data"); m.ToolCallID != "call-1" || m.Content != "result data" {
		t.Errorf("tool result = %+v", m)
	}
}

func TestChatMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  ChatMessage
		want string
	}{
		{"content", ChatMessage{Content: "plain"}, "plain"},
		{"parts win", ChatMessage{Content: "ignored", Parts: []TextPart{{Type: "text", Text: "a"}, {Type: "text", Text: "b"}}}, "ab"},
		{"empty", ChatMessage{}, ""},
	}
	for _, tt := range tests {
		if got := tt.msg.Text(); got != tt.want {
			t.Errorf("%s: Text() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
