package llm

import (
	"strings"

	"llm-backtester/internal/interfaces"
	"llm-backtester/internal/llm/claude"
	"llm-backtester/internal/llm/ollama"
	"llm-backtester/internal/llm/openai"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderOllama Provider = "ollama"
)

// ProviderFor picks the backend from the model name: gpt* and o* models go to
// OpenAI, claude* to Anthropic, everything else to a local Ollama.
func ProviderFor(model string) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o"):
		return ProviderOpenAI
	case strings.HasPrefix(m, "claude"):
		return ProviderClaude
	default:
		return ProviderOllama
	}
}

func NewClient(model string, maxTokens int, temperature float32) interfaces.ChatClient {
	switch ProviderFor(model) {
	case ProviderOpenAI:
		return openai.New(openai.Params{Model: model, MaxTokens: maxTokens, Temperature: temperature})
	case ProviderClaude:
		return claude.New(claude.Params{Model: model, MaxTokens: maxTokens, Temperature: temperature})
	default:
		return ollama.New(ollama.Params{Model: model, MaxTokens: maxTokens, Temperature: temperature})
	}
}
