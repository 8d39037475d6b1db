package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Service owns one lazily-created client per provider and dispatches
// generation requests to the active one.
type Service struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	active   Provider
	clients  map[Provider]Generator
}

// NewService creates the dispatching service. No provider client is built
// until first use.
func NewService(cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}
	return &Service{
		cfg:     cfg,
		logger:  logger.Named("llm"),
		active:  cfg.Provider,
		clients: make(map[Provider]Generator),
	}
}

// Provider returns the currently active provider.
func (s *Service) Provider() Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetProvider switches the active provider for subsequent calls.
func (s *Service) SetProvider(p Provider) error {
	switch p {
	case ProviderGemini, ProviderOpenAI, ProviderDeepSeek:
	default:
		return fmt.Errorf("unknown provider %q", p)
	}
	s.mu.Lock()
	s.active = p
	s.mu.Unlock()
	s.logger.Info("Switched generator provider", zap.String("provider", string(p)))
	return nil
}

// Client returns the Generator for p, creating it on first use.
func (s *Service) Client(p Provider) (Generator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientLocked(p)
}

func (s *Service) clientLocked(p Provider) (Generator, error) {
	if g, ok := s.clients[p]; ok {
		return g, nil
	}
	var g Generator
	switch p {
	case ProviderGemini:
		g = NewGeminiClient(s.cfg.GeminiAPIKey, s.cfg.GeminiModel, s.logger)
	case ProviderOpenAI:
		g = NewOpenAIClient(s.cfg.OpenAIAPIKey, s.cfg.OpenAIModel, s.logger)
	case ProviderDeepSeek:
		g = NewDeepSeekClient(s.cfg.DeepSeekAPIKey, s.cfg.DeepSeekModel, s.logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
	s.clients[p] = g
	return g, nil
}

// Generate runs the active provider with the configured defaults. A zero
// maxTokens or temperature falls back to the configuration.
func (s *Service) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	s.mu.Lock()
	active := s.active
	g, err := s.clientLocked(active)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens
	}
	if temperature <= 0 {
		temperature = s.cfg.Temperature
	}
	return g.Generate(ctx, prompt, maxTokens, temperature)
}

// GenerateStream runs the active provider's streaming path.
func (s *Service) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	s.mu.Lock()
	g, err := s.clientLocked(s.active)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.GenerateStream(ctx, prompt)
}

var _ Generator = (*Service)(nil)
