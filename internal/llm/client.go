package llm

import (
	"context"
	"fmt"
	"strings"
)

// Client is the narrow surface the repair and generation loops need from
// a generative model: one prompt pair in, one text completion out.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// DefaultMaxTokens bounds outgoing prompt size, estimated at four
// characters per token.
const (
	DefaultMaxTokens = 32000
	charsPerToken    = 4
	truncationMark   = "\n\n[prompt truncated]"
)

// Options select and configure a provider.
type Options struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// NewClient builds the configured provider client. Gemini is the default.
func NewClient(ctx context.Context, opts Options) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "gemini"
	}

	switch provider {
	case "gemini":
		return NewGeminiClient(ctx, opts.APIKey, opts.Model, opts.MaxTokens)
	case "openai":
		return NewOpenAIClient(opts.APIKey, opts.Model, opts.BaseURL, opts.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", opts.Provider)
	}
}

// fitPrompt cuts prompt text down to the token budget.
func fitPrompt(prompt string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxChars := maxTokens * charsPerToken
	if len(prompt) <= maxChars {
		return prompt
	}
	return prompt[:maxChars] + truncationMark
}
