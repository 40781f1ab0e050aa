package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nevindra/vybe"
)

const (
	DefaultModel       = "deepseek-chat"
	DefaultBaseURL     = "https://api.deepseek.com"
	DefaultTemperature = 0.1
)

// Provider implements vybe.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
	logger  *slog.Logger
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.deepseek.com",
// "https://api.openai.com/v1"); "/chat/completions" is appended.
// An empty model or baseURL selects DefaultModel and DefaultBaseURL.
// Provider-level options apply to every request; per-request
// GenerationParams override them.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Model returns the model identifier sent with every request.
func (p *Provider) Model() string { return p.model }

// mergeGenParams appends per-request params after the provider defaults;
// options apply in order so the request wins.
func (p *Provider) mergeGenParams(params *vybe.GenerationParams) []Option {
	if params == nil {
		return p.opts
	}
	opts := make([]Option, len(p.opts), len(p.opts)+3)
	copy(opts, p.opts)
	if params.Temperature != nil {
		opts = append(opts, WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, WithTopP(*params.TopP))
	}
	if params.MaxTokens != nil {
		opts = append(opts, WithMaxTokens(*params.MaxTokens))
	}
	return opts
}

// Chat sends a chat request without tools.
func (p *Provider) Chat(ctx context.Context, req vybe.ChatRequest) (vybe.ChatResponse, error) {
	body := BuildBody(req.Messages, nil, p.model, p.mergeGenParams(req.GenerationParams)...)
	return p.doRequest(ctx, body)
}

// ChatWithTools sends a chat request offering tools; the response may carry
// ToolCalls.
func (p *Provider) ChatWithTools(ctx context.Context, req vybe.ChatRequest, tools []vybe.ToolDefinition) (vybe.ChatResponse, error) {
	body := BuildBody(req.Messages, tools, p.model, p.mergeGenParams(req.GenerationParams)...)
	return p.doRequest(ctx, body)
}

func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (vybe.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return vybe.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return vybe.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return vybe.ChatResponse{}, &vybe.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	out, err := ParseResponse(chatResp)
	if err != nil {
		return vybe.ChatResponse{}, &vybe.ErrLLM{Provider: p.name, Message: err.Error()}
	}
	if p.logger != nil {
		p.logger.Debug("chat completion",
			"model", p.model,
			"tool_calls", len(out.ToolCalls),
			"input_tokens", out.Usage.InputTokens,
			"output_tokens", out.Usage.OutputTokens)
	}
	return out, nil
}

func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &vybe.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &vybe.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr returns an ErrHTTP for the retry middleware, including any
// Retry-After hint.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &vybe.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: vybe.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

var _ vybe.Provider = (*Provider)(nil)
