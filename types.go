package vybe

import (
	"encoding/json"
	"strconv"
)

// --- Domain types (database records) ---

// Message roles and kinds as persisted for a project.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"

	KindResult = "RESULT"
	KindError  = "ERROR"
)

// Message is a persisted project message. Assistant messages of kind RESULT
// carry the Fragment produced by the run.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Role      string    `json:"role"` // "USER" or "ASSISTANT"
	Kind      string    `json:"kind"` // "RESULT" or "ERROR"
	Content   string    `json:"content"`
	Fragment  *Fragment `json:"fragment,omitempty"`
	CreatedAt int64     `json:"created_at"`
}

// Project groups a user's conversation with the code agent. UpdatedAt moves
// with every new message.
type Project struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Fragment is the generated artifact attached to a RESULT message.
type Fragment struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	SandboxURL string            `json:"sandbox_url"`
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	CreatedAt  int64             `json:"created_at"`
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job is a queued code-generation request. Generation is bumped when the run
// must restart from scratch, which yields a fresh RunID and therefore a fresh
// set of durable step records.
type Job struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	UserID      string `json:"user_id"`
	Input       string `json:"input"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	Generation  int    `json:"generation"`
	LastError   string `json:"last_error,omitempty"`
	LockedBy    string `json:"-"`
	LockedUntil int64  `json:"-"`
	AvailableAt int64  `json:"available_at"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// RunID is the durable step namespace of the job's current generation.
func (j Job) RunID() string {
	if j.Generation == 0 {
		return j.ID
	}
	return j.ID + "." + strconv.Itoa(j.Generation)
}

// QuotaUsage is the consumed quota of one key within its current window.
type QuotaUsage struct {
	Key      string `json:"key"`
	Points   int    `json:"points"`
	ExpireAt int64  `json:"expire_at"` // unix millis, 0 when no window is open
}

// --- LLM protocol types ---

// Chat message roles.
const (
	ChatSystem    = "system"
	ChatUser      = "user"
	ChatAssistant = "assistant"
	ChatTool      = "tool"
)

// MessageType distinguishes what an agent output message carries.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
)

// TextPart is one segment of a message whose content arrived as a list.
type TextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatMessage is one entry of a model conversation.
type ChatMessage struct {
	Role       string      `json:"role"` // "system", "user", "assistant", "tool"
	Type       MessageType `json:"type,omitempty"`
	Content    string      `json:"content"`
	Parts      []TextPart  `json:"parts,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes a callable function to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerationParams controls sampling. Nil fields use the provider default.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

type ChatRequest struct {
	Messages         []ChatMessage     `json:"messages"`
	GenerationParams *GenerationParams `json:"generation_params,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	Parts     []TextPart `json:"parts,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage reports token consumption of one or more model calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Convenience constructors ---

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: ChatSystem, Type: MessageText, Content: text}
}

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: ChatUser, Type: MessageText, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: ChatAssistant, Type: MessageText, Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: ChatTool, Type: MessageToolResult, Content: content, ToolCallID: callID}
}

// Text returns the message text: parts concatenated in order when present,
// otherwise Content.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var n int
	for _, p := range m.Parts {
		n += len(p.Text)
	}
	b := make([]byte, 0, n)
	for _, p := range m.Parts {
		b = append(b, p.Text...)
	}
	return string(b)
}
