package vybe

import "testing"

func TestClassifyTotality(t *testing.T) {
	tests := []struct {
		name    string
		summary string
		files   map[string]string
		result  bool
	}{
		{"empty", "", nil, false},
		{"summary only", "done</task_summary>", nil, false},
		{"files only", "", map[string]string{"a": "1"}, false},
		{"both", "done</task_summary>", map[string]string{"a": "1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewRunState(nil)
			state.SetSummary(tt.summary)
			state.ReplaceFiles(tt.files)

			switch o := Classify(state).(type) {
			case ResultOutcome:
				if !tt.result {
					t.Fatalf("got Result, want Error")
				}
				if o.Summary != tt.summary || len(o.Files) != len(tt.files) {
					t.Errorf("result = %+v", o)
				}
			case ErrorOutcome:
				if tt.result {
					t.Fatalf("got Error, want Result")
				}
				if o.Reason != tt.summary {
					t.Errorf("reason = %q, want %q", o.Reason, tt.summary)
				}
			default:
				t.Fatalf("unexpected outcome %T", o)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		output []ChatMessage
		want   string
	}{
		{"empty output", nil, "fb"},
		{"plain content", []ChatMessage{AssistantMessage("Todo App")}, "Todo App"},
		{"parts", []ChatMessage{{Role: ChatAssistant, Type: MessageText, Parts: []TextPart{{Text: "Todo"}, {Text: " App"}}}}, "Todo App"},
		{"tool call first", []ChatMessage{{Role: ChatAssistant, Type: MessageToolCall}, AssistantMessage("x")}, "fb"},
		{"untyped", []ChatMessage{{Role: ChatAssistant, Content: "x"}}, "fb"},
	}
	for _, tt := range tests {
		if got := ExtractText(tt.output, "fb"); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
