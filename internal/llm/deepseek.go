package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/jsonx"
)

const deepseekEndpoint = "https://api.deepseek.com/chat/completions"

// DeepSeekClient talks to the DeepSeek chat-completions API (an
// OpenAI-compatible surface). Without an API key it runs in stub mode.
type DeepSeekClient struct {
	apiKey string
	model  string
	logger *zap.Logger
}

var _ Generator = (*DeepSeekClient)(nil)

// NewDeepSeekClient creates a DeepSeek generator.
func NewDeepSeekClient(apiKey, model string, logger *zap.Logger) *DeepSeekClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		model = "deepseek-chat"
	}
	if apiKey == "" {
		logger.Warn("DeepSeek API key missing, running in stub mode")
	}
	return &DeepSeekClient{
		apiKey: apiKey,
		model:  model,
		logger: logger.Named("deepseek"),
	}
}

func (d *DeepSeekClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if d.apiKey == "" {
		return stubAnswer("DeepSeek", prompt), nil
	}

	result, err := withRateLimitRetry(ctx, func() (string, error) {
		return d.call(ctx, prompt, maxTokens, temperature)
	})
	if err != nil {
		d.logger.Error("DeepSeek generation failed, degrading to stub", zap.Error(err))
		return stubAnswer("DeepSeek", prompt), nil
	}
	return result, nil
}

func (d *DeepSeekClient) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	answer, err := d.Generate(ctx, prompt, 0, 0.7)
	if err != nil {
		return nil, err
	}
	return streamString(ctx, answer), nil
}

func (d *DeepSeekClient) call(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	body := map[string]interface{}{
		"model": d.model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
		"stream":      false,
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}

	headers := map[string]string{"Authorization": "Bearer " + d.apiKey}
	raw, err := postJSON(ctx, sharedHTTPClient, deepseekEndpoint, headers, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode deepseek response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("deepseek returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
