package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/vybe"
)

// BuildBody converts vybe ChatMessages into a chat completions request.
//
// Agent output stores an assistant's text and its tool calls as two
// consecutive messages; they are merged back into one assistant message
// here since the API expects tool calls on the message that produced them.
func BuildBody(messages []vybe.ChatMessage, tools []vybe.ToolDefinition, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))

	for _, m := range messages {
		switch {
		case m.Role == vybe.ChatAssistant && len(m.ToolCalls) > 0:
			tcs := make([]ToolCallRequest, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args := string(tc.Args)
				if args == "" {
					args = "{}"
				}
				tcs = append(tcs, ToolCallRequest{
					ID:       tc.ID,
					Type:     "function",
					Function: FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			if n := len(msgs); n > 0 && mergeable(msgs[n-1]) {
				msgs[n-1].ToolCalls = tcs
				continue
			}
			msg := Message{Role: vybe.ChatAssistant, ToolCalls: tcs}
			if text := m.Text(); text != "" {
				msg.Content = text
			}
			msgs = append(msgs, msg)

		case m.Role == vybe.ChatTool:
			msgs = append(msgs, Message{
				Role:       vybe.ChatTool,
				Content:    m.Text(),
				ToolCallID: m.ToolCallID,
			})

		case len(m.Parts) > 0 && m.Role != vybe.ChatSystem:
			blocks := make([]ContentBlock, 0, len(m.Parts))
			for _, p := range m.Parts {
				blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
			}
			msgs = append(msgs, Message{Role: m.Role, Content: blocks})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Text()})
		}
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// mergeable reports whether msg is a plain assistant text message that can
// take the tool calls of the message following it.
func mergeable(msg Message) bool {
	if msg.Role != vybe.ChatAssistant || len(msg.ToolCalls) > 0 {
		return false
	}
	_, ok := msg.Content.(string)
	return ok
}

// BuildToolDefs converts vybe ToolDefinitions to the function tool format.
func BuildToolDefs(tools []vybe.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
