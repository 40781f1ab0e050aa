package vybe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nevindra/vybe/durable"
)

const defaultMaxIter = 10

// LLMAgent is an Agent that calls a model and executes the tools it asks for.
//
// Every model call is the durable step "<name>/round-N/infer" and every tool
// call runs inside the scope "<name>/round-N/call-M", so a replayed agent
// reproduces the same conversation without calling the model or the tools
// again.
type LLMAgent struct {
	name         string
	description  string
	provider     Provider
	tools        *ToolRegistry
	systemPrompt string
	maxIter      int
	params       *GenerationParams
	tracer       Tracer
	logger       *slog.Logger
}

var _ Agent = (*LLMAgent)(nil)

// NewLLMAgent creates an LLMAgent with the given provider and options.
func NewLLMAgent(name, description string, provider Provider, opts ...AgentOption) *LLMAgent {
	cfg := buildConfig(opts)
	a := &LLMAgent{
		name:         name,
		description:  description,
		provider:     provider,
		tools:        NewToolRegistry(),
		systemPrompt: cfg.prompt,
		maxIter:      defaultMaxIter,
		params:       cfg.params,
		tracer:       cfg.tracer,
		logger:       cfg.logger,
	}
	if cfg.maxIter > 0 {
		a.maxIter = cfg.maxIter
	}
	for _, t := range cfg.tools {
		a.tools.Add(t)
	}
	return a
}

func (a *LLMAgent) Name() string        { return a.name }
func (a *LLMAgent) Description() string { return a.description }

// Execute runs inference rounds until the model stops requesting tools or
// the round cap is reached. Tool calls of a round run sequentially in the
// order the model listed them. A tool error aborts execution; the messages
// produced so far are still returned.
func (a *LLMAgent) Execute(ctx context.Context, task AgentTask) (AgentResult, error) {
	ctx, span := startSpan(ctx, a.tracer, "agent.execute",
		StringAttr("agent.name", a.name),
		StringAttr("agent.type", "LLMAgent"))
	defer span.End()

	result, err := a.run(ctx, task)

	span.SetAttr(
		IntAttr("tokens.input", result.Usage.InputTokens),
		IntAttr("tokens.output", result.Usage.OutputTokens),
		IntAttr("agent.messages", len(result.Output)))
	if err != nil {
		span.Error(err)
	}
	a.logger.Info("agent completed", "agent", a.name,
		"status", statusStr(err),
		"messages", len(result.Output),
		"tokens.input", result.Usage.InputTokens,
		"tokens.output", result.Usage.OutputTokens)
	return result, err
}

func (a *LLMAgent) run(ctx context.Context, task AgentTask) (AgentResult, error) {
	messages := a.buildMessages(task)
	defs := a.tools.AllDefinitions()

	var result AgentResult
	for round := 0; round < a.maxIter; round++ {
		req := ChatRequest{Messages: messages, GenerationParams: a.params}
		resp, err := durable.Step(ctx, fmt.Sprintf("%s/round-%d/infer", a.name, round),
			func(ctx context.Context) (ChatResponse, error) {
				if len(defs) > 0 {
					return a.provider.ChatWithTools(ctx, req, defs)
				}
				return a.provider.Chat(ctx, req)
			})
		if err != nil {
			return result, fmt.Errorf("agent %s: %w", a.name, err)
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens

		produced := responseMessages(resp)
		result.Output = append(result.Output, produced...)
		messages = append(messages, produced...)

		if len(resp.ToolCalls) == 0 {
			return result, nil
		}

		for i, tc := range resp.ToolCalls {
			callCtx := durable.WithScope(ctx, fmt.Sprintf("%s/round-%d/call-%d", a.name, round, i))
			content, err := a.callTool(callCtx, tc)
			if err != nil {
				return result, fmt.Errorf("agent %s: tool %s: %w", a.name, tc.Name, err)
			}
			msg := ToolResultMessage(tc.ID, content)
			result.Output = append(result.Output, msg)
			messages = append(messages, msg)
		}
	}
	// A single-round agent hits the cap on every turn.
	level := slog.LevelWarn
	if a.maxIter == 1 {
		level = slog.LevelDebug
	}
	a.logger.Log(ctx, level, "agent reached round cap", "agent", a.name, "max_iter", a.maxIter)
	return result, nil
}

func (a *LLMAgent) callTool(ctx context.Context, tc ToolCall) (string, error) {
	ctx, span := startSpan(ctx, a.tracer, "tool.execute",
		StringAttr("tool.name", tc.Name),
		StringAttr("agent.name", a.name))
	defer span.End()

	res, err := a.tools.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		span.Error(err)
		return "", err
	}
	span.SetAttr(BoolAttr("tool.in_band_error", res.Error != ""))
	return res.String(), nil
}

func (a *LLMAgent) buildMessages(task AgentTask) []ChatMessage {
	messages := make([]ChatMessage, 0, len(task.History)+2)
	if a.systemPrompt != "" {
		messages = append(messages, SystemMessage(a.systemPrompt))
	}
	messages = append(messages, task.History...)
	if task.Input != "" {
		messages = append(messages, UserMessage(task.Input))
	}
	return messages
}

// responseMessages splits a model response into a text message and, when
// tools were requested, a separate tool-call message.
func responseMessages(resp ChatResponse) []ChatMessage {
	var out []ChatMessage
	if resp.Content != "" || len(resp.Parts) > 0 || len(resp.ToolCalls) == 0 {
		out = append(out, ChatMessage{
			Role:    ChatAssistant,
			Type:    MessageText,
			Content: resp.Content,
			Parts:   resp.Parts,
		})
	}
	if len(resp.ToolCalls) > 0 {
		out = append(out, ChatMessage{
			Role:      ChatAssistant,
			Type:      MessageToolCall,
			ToolCalls: resp.ToolCalls,
		})
	}
	return out
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
