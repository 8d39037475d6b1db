package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient wraps the official-style OpenAI SDK. Without an API key it
// runs in stub mode. This is the only provider with true token streaming.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ Generator = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI generator.
func NewOpenAIClient(apiKey, model string, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	c := &OpenAIClient{model: model, logger: logger.Named("openai")}
	if apiKey == "" {
		logger.Warn("OpenAI API key missing, running in stub mode")
	} else {
		c.client = openai.NewClient(apiKey)
	}
	return c
}

func (o *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if o.client == nil {
		return stubAnswer("OpenAI", prompt), nil
	}

	result, err := withRateLimitRetry(ctx, func() (string, error) {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			MaxTokens:   maxTokens,
			Temperature: float32(temperature),
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return "", translateOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		o.logger.Error("OpenAI generation failed, degrading to stub", zap.Error(err))
		return stubAnswer("OpenAI", prompt), nil
	}
	return result, nil
}

func (o *OpenAIClient) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	if o.client == nil {
		return streamString(ctx, stubAnswer("OpenAI", prompt)), nil
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:  o.model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		o.logger.Error("OpenAI stream failed, degrading to stub", zap.Error(err))
		return streamString(ctx, stubAnswer("OpenAI", prompt)), nil
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				o.logger.Warn("OpenAI stream interrupted", zap.Error(err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			select {
			case out <- resp.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// translateOpenAIError maps SDK errors onto the retry layer's rate-limit
// signal.
func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isRateLimited(apiErr.HTTPStatusCode) {
		return &rateLimitError{message: apiErr.Message}
	}
	return err
}
