package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/jsonx"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// sharedHTTPClient is reused by every REST-backed provider.
var sharedHTTPClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// GeminiClient talks to the Gemini REST API. Without an API key it runs in
// stub mode.
type GeminiClient struct {
	apiKey string
	model  string
	client *http.Client
	logger *zap.Logger
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini generator.
func NewGeminiClient(apiKey, model string, logger *zap.Logger) *GeminiClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if apiKey == "" {
		logger.Warn("Gemini API key missing, running in stub mode")
	}
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
		client: sharedHTTPClient,
		logger: logger.Named("gemini"),
	}
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if g.apiKey == "" {
		return stubAnswer("Gemini", prompt), nil
	}

	result, err := withRateLimitRetry(ctx, func() (string, error) {
		return g.call(ctx, prompt, maxTokens, temperature)
	})
	if err != nil {
		g.logger.Error("Gemini generation failed, degrading to stub", zap.Error(err))
		return stubAnswer("Gemini", prompt), nil
	}
	return result, nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	// Gemini streaming is emulated: the full answer is produced first and
	// then re-emitted lazily in chunks.
	answer, err := g.Generate(ctx, prompt, 0, 0.7)
	if err != nil {
		return nil, err
	}
	return streamString(ctx, answer), nil
}

func (g *GeminiClient) call(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	genConfig := map[string]interface{}{
		"temperature": temperature,
	}
	if maxTokens > 0 {
		genConfig["maxOutputTokens"] = maxTokens
	}
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]interface{}{{"text": prompt}}},
		},
		"generationConfig": genConfig,
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiEndpoint, g.model, g.apiKey)
	raw, err := postJSON(ctx, g.client, url, nil, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// postJSON sends a JSON body and returns the raw response, translating 429
// into a rateLimitError so the retry layer can react.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}) ([]byte, error) {
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if isRateLimited(resp.StatusCode) {
		return nil, &rateLimitError{message: string(raw)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncateRunes(string(raw), 200))
	}
	return raw, nil
}
