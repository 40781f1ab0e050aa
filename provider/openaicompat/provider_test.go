package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nevindra/vybe"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "deepseek-chat" {
			t.Errorf("expected model deepseek-chat, got %s", req.Model)
		}
		if len(req.Tools) != 0 {
			t.Errorf("Chat should not send tools, got %d", len(req.Tools))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","choices":[{"message":{"role":"assistant","content":"Hello!"}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewProvider("test-key", "", srv.URL)
	resp, err := p.Chat(context.Background(), vybe.ChatRequest{
		Messages: []vybe.ChatMessage{vybe.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestProvider_ChatWithTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "terminal" {
			t.Errorf("tools = %+v", req.Tools)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"c1","type":"function","function":{"name":"terminal","arguments":"{\"command\":\"ls\"}"}}]}}]}`))
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	resp, err := p.ChatWithTools(context.Background(),
		vybe.ChatRequest{Messages: []vybe.ChatMessage{vybe.UserMessage("x")}},
		[]vybe.ToolDefinition{{Name: "terminal"}})
	if err != nil {
		t.Fatalf("ChatWithTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "c1" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestProvider_GenerationParamsOverrideDefaults(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL, WithOptions(WithTemperature(DefaultTemperature), WithMaxTokens(50)))
	temp := 0.7
	_, err := p.Chat(context.Background(), vybe.ChatRequest{
		GenerationParams: &vybe.GenerationParams{Temperature: &temp},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got.Temperature)
	}
	if got.MaxTokens != 50 {
		t.Errorf("max_tokens = %d, want provider default 50", got.MaxTokens)
	}

	_, _ = p.Chat(context.Background(), vybe.ChatRequest{})
	if got.Temperature == nil || *got.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v, want default", got.Temperature)
	}
}

func TestProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	_, err := p.Chat(context.Background(), vybe.ChatRequest{})

	var httpErr *vybe.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *vybe.ErrHTTP, got %T: %v", err, err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 3*time.Second {
		t.Errorf("retry after = %v", httpErr.RetryAfter)
	}
}

func TestProvider_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL, WithName("deepseek"))
	_, err := p.Chat(context.Background(), vybe.ChatRequest{})

	var llmErr *vybe.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *vybe.ErrLLM, got %T: %v", err, err)
	}
	if llmErr.Provider != "deepseek" {
		t.Errorf("provider = %q", llmErr.Provider)
	}
}

func TestNewProvider_Defaults(t *testing.T) {
	p := NewProvider("k", "", "")
	if p.Model() != DefaultModel {
		t.Errorf("model = %q", p.Model())
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q", p.baseURL)
	}
	if p.Name() != "openai" {
		t.Errorf("name = %q", p.Name())
	}
}
