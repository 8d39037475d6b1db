// Package rag composes the vector index and the generator into the plain
// retrieval service: cached question answering plus uncached streaming.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/cache"
	"github.com/graphrag-kernel/internal/llm"
	"github.com/graphrag-kernel/internal/vector"
)

// QueryResult is the retrieval service response shape.
type QueryResult struct {
	Answer  string          `json:"answer"`
	Sources []vector.Source `json:"sources"`
	Query   string          `json:"query"`
}

const (
	resultCacheSize = 1024
	resultCacheTTL  = time.Hour
)

// Service answers questions with vector retrieval and the generator.
type Service struct {
	index     vector.Index
	generator llm.Generator
	results   *expirable.LRU[string, *QueryResult]
	logger    *zap.Logger
}

// NewService creates the retrieval service with its own result cache.
func NewService(index vector.Index, generator llm.Generator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		index:     index,
		generator: generator,
		results:   expirable.NewLRU[string, *QueryResult](resultCacheSize, nil, resultCacheTTL),
		logger:    logger.Named("rag"),
	}
}

// Query retrieves topK sources and generates an answer, caching the result
// by (query, top_k). The retrieved sources are deliberately not substituted
// into the generator prompt; callers that need contextualized generation
// compose their own prompt.
func (s *Service) Query(ctx context.Context, query string, topK int) (*QueryResult, error) {
	key := cache.Key("rag_query", []interface{}{query}, map[string]interface{}{"top_k": topK})
	if cached, ok := s.results.Get(key); ok {
		s.logger.Debug("Retrieval cache hit", zap.String("query", query))
		return cached, nil
	}

	sources, err := s.index.Search(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	answer, err := s.generator.Generate(ctx, query, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	result := &QueryResult{
		Answer:  answer,
		Sources: sources,
		Query:   query,
	}
	s.results.Add(key, result)
	return result, nil
}

// StreamQuery yields answer chunks in the generator's emission order.
// Streaming results are never cached.
func (s *Service) StreamQuery(ctx context.Context, query string) (<-chan string, error) {
	return s.generator.GenerateStream(ctx, query)
}

// InvalidateAll drops every cached retrieval result.
func (s *Service) InvalidateAll() {
	s.results.Purge()
}
