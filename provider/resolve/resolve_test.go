package resolve

import (
	"strings"
	"testing"
)

func TestDefaultBaseURL(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"deepseek", "https://api.deepseek.com"},
		{"openai", "https://api.openai.com/v1"},
		{"groq", "https://api.groq.com/openai/v1"},
		{"together", "https://api.together.xyz/v1"},
		{"mistral", "https://api.mistral.ai/v1"},
		{"openrouter", "https://openrouter.ai/api/v1"},
		{"ollama", "http://localhost:11434/v1"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.provider); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestProvider_Known(t *testing.T) {
	providers := []string{"deepseek", "openai", "groq", "together", "mistral", "openrouter"}
	for _, name := range providers {
		t.Run(name, func(t *testing.T) {
			p, err := Provider(Config{Provider: name, APIKey: "test-key", Model: "test-model"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != name {
				t.Errorf("Name() = %q, want %q", p.Name(), name)
			}
			if p.Model() != "test-model" {
				t.Errorf("Model() = %q, want %q", p.Model(), "test-model")
			}
		})
	}
}

func TestProvider_WithOptions(t *testing.T) {
	temp := 0.1
	topP := 0.9
	maxTokens := 4096
	p, err := Provider(Config{
		Provider:    "deepseek",
		APIKey:      "test-key",
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != "deepseek-chat" {
		t.Errorf("Model() = %q, want default", p.Model())
	}
}

func TestProvider_OllamaWithoutKey(t *testing.T) {
	if _, err := Provider(Config{Provider: "ollama", Model: "qwen2.5-coder"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProvider_MissingKey(t *testing.T) {
	_, err := Provider(Config{Provider: "openai", Model: "gpt-4o"})
	if err == nil || !strings.Contains(err.Error(), "api key") {
		t.Fatalf("err = %v, want missing api key", err)
	}
}

func TestProvider_Unknown(t *testing.T) {
	if _, err := Provider(Config{Provider: "nope", APIKey: "k"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestProvider_CustomBaseURL(t *testing.T) {
	p, err := Provider(Config{Provider: "vllm", APIKey: "k", BaseURL: "http://gpu:8000/v1"})
	if err != nil {
		t.Fatalf("custom base URL should accept any vendor name: %v", err)
	}
	if p.Name() != "vllm" {
		t.Errorf("Name() = %q", p.Name())
	}
}
