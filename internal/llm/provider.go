// Package llm provides the generative-model clients behind extraction and
// answer generation. Each provider implements Generator, carries its own
// credentials, and degrades to a stub when it has none, so the whole
// pipeline stays exercisable without network access.
package llm

import (
	"context"
	"fmt"
	"os"
)

// Provider identifies a generator backend.
type Provider string

const (
	ProviderGemini   Provider = "gemini"
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
)

// Generator is the provider contract. GenerateStream returns a cold lazy
// sequence: chunks are produced only as the consumer drains the channel,
// and dropping the context cancels production.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan string, error)
}

// Config carries provider selection and credentials. Credential precedence
// is explicit value > config file > process environment; FillFromEnv applies
// the last step.
type Config struct {
	Provider    Provider `yaml:"provider"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`

	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`

	DeepSeekAPIKey string `yaml:"deepseek_api_key"`
	DeepSeekModel  string `yaml:"deepseek_model"`
}

// DefaultConfig returns the stock configuration with credentials resolved
// from the environment.
func DefaultConfig() Config {
	cfg := Config{
		Provider:    ProviderGemini,
		MaxTokens:   2000,
		Temperature: 0.7,
	}
	cfg.FillFromEnv()
	return cfg
}

// FillFromEnv resolves any credential or model left empty from the process
// environment.
func (c *Config) FillFromEnv() {
	fill := func(dst *string, env, fallback string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
		if *dst == "" {
			*dst = fallback
		}
	}
	fill(&c.GeminiAPIKey, "GEMINI_API_KEY", "")
	fill(&c.GeminiModel, "GEMINI_MODEL", "gemini-1.5-flash")
	fill(&c.OpenAIAPIKey, "OPENAI_API_KEY", "")
	fill(&c.OpenAIModel, "OPENAI_MODEL", "gpt-4o-mini")
	fill(&c.DeepSeekAPIKey, "DEEPSEEK_API_KEY", "")
	fill(&c.DeepSeekModel, "DEEPSEEK_MODEL", "deepseek-chat")
}

// stubStreamChunk is the emission granularity of stubbed streams.
const stubStreamChunk = 24

// stubAnswer renders the recognizable placeholder text every provider
// falls back to when it has no credentials or its backend is unreachable.
func stubAnswer(label, prompt string) string {
	return fmt.Sprintf("[%s Stub] 回答: %s", label, truncateRunes(prompt, 50))
}

// streamString turns a complete answer into a lazy chunk sequence.
func streamString(ctx context.Context, text string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		runes := []rune(text)
		for start := 0; start < len(runes); start += stubStreamChunk {
			end := start + stubStreamChunk
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case out <- string(runes[start:end]):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
