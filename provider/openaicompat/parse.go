package openaicompat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nevindra/vybe"
)

// ParseResponse converts a chat completions response to a vybe ChatResponse
// using choices[0].
func ParseResponse(resp ChatResponse) (vybe.ChatResponse, error) {
	var out vybe.ChatResponse

	if resp.Usage != nil {
		out.Usage = vybe.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return out, nil
	}

	msg := resp.Choices[0].Message
	content, parts, err := parseContent(msg.Content)
	if err != nil {
		return out, err
	}
	out.Content = content
	out.Parts = parts
	out.ToolCalls = ParseToolCalls(msg.ToolCalls)
	return out, nil
}

// parseContent decodes message content given as a string, as a list of
// content blocks, or as null. For a list, the returned content is the
// concatenated text.
func parseContent(raw json.RawMessage) (string, []vybe.TextPart, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil, fmt.Errorf("decode content: %w", err)
		}
		return s, nil, nil
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return "", nil, fmt.Errorf("decode content parts: %w", err)
		}
		parts := make([]vybe.TextPart, 0, len(blocks))
		for _, b := range blocks {
			if b.Type != "text" {
				continue
			}
			parts = append(parts, vybe.TextPart{Type: b.Type, Text: b.Text})
		}
		msg := vybe.ChatMessage{Parts: parts}
		return msg.Text(), parts, nil
	default:
		return "", nil, fmt.Errorf("unexpected content: %.40s", raw)
	}
}

// ParseToolCalls converts tool call requests to vybe ToolCalls. Arguments
// arrive as a JSON string; invalid JSON becomes an empty object.
func ParseToolCalls(tcs []ToolCallRequest) []vybe.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]vybe.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, vybe.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
