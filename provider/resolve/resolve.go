// Package resolve builds the chat provider named in configuration. Every
// supported vendor speaks the OpenAI-compatible chat completions API.
package resolve

import (
	"fmt"
	"log/slog"

	"github.com/nevindra/vybe/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "deepseek", "openai", "groq", "together", "mistral", "openrouter", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	Logger *slog.Logger
}

// Provider creates a provider from cfg. Every vendor except ollama needs an
// API key.
func Provider(cfg Config) (*openaicompat.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" && cfg.Provider != "ollama" {
		return nil, fmt.Errorf("resolve: provider %q needs an api key", cfg.Provider)
	}

	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}
	if cfg.Logger != nil {
		provOpts = append(provOpts, openaicompat.WithLogger(cfg.Logger))
	}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if cfg.MaxTokens != nil {
		reqOpts = append(reqOpts, openaicompat.WithMaxTokens(*cfg.MaxTokens))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...), nil
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "deepseek":
		return openaicompat.DefaultBaseURL
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
