package llm

import (
	"context"
	"fmt"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// Config selects and configures a provider.
type Config struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	AnthropicKey string `toml:"anthropic_key"`
	OllamaURL    string `toml:"ollama_url"`
	OllamaModel  string `toml:"ollama_model"`
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	case "mock":
		return &MockClient{Response: &Response{Content: "[]", Provider: "mock"}}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
