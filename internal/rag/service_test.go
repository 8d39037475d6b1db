package rag

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/graphrag-kernel/internal/vector"
)

type countingIndex struct {
	searches atomic.Int64
	hits     []vector.Source
}

func (c *countingIndex) Search(ctx context.Context, query string, topK int) ([]vector.Source, error) {
	c.searches.Add(1)
	if topK < len(c.hits) {
		return c.hits[:topK], nil
	}
	return c.hits, nil
}

func (c *countingIndex) AddDocuments(ctx context.Context, docs []vector.Document) error { return nil }
func (c *countingIndex) DeleteDocuments(ctx context.Context, ids []string) error        { return nil }
func (c *countingIndex) Count() (uint64, error)                                         { return uint64(len(c.hits)), nil }
func (c *countingIndex) Close() error                                                   { return nil }

type countingGenerator struct {
	generations atomic.Int64
}

func (c *countingGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	c.generations.Add(1)
	return "answer to: " + prompt, nil
}

func (c *countingGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string, 3)
	out <- "chunk-1 "
	out <- "chunk-2 "
	out <- "chunk-3"
	close(out)
	return out, nil
}

func TestQueryAssemblesResult(t *testing.T) {
	idx := &countingIndex{hits: []vector.Source{
		{ID: "d1", Content: "doc one", Score: 0.9},
		{ID: "d2", Content: "doc two", Score: 0.5},
	}}
	gen := &countingGenerator{}
	svc := NewService(idx, gen, zaptest.NewLogger(t))

	result, err := svc.Query(context.Background(), "what is X", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.Query != "what is X" {
		t.Errorf("query echoed wrong: %s", result.Query)
	}
	if !strings.Contains(result.Answer, "what is X") {
		t.Errorf("answer: %s", result.Answer)
	}
	if len(result.Sources) != 2 {
		t.Errorf("sources: %+v", result.Sources)
	}
}

func TestQueryCacheEffectiveness(t *testing.T) {
	idx := &countingIndex{hits: []vector.Source{{ID: "d1", Score: 1}}}
	gen := &countingGenerator{}
	svc := NewService(idx, gen, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Query(ctx, "X", 3); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	if idx.searches.Load() != 1 {
		t.Errorf("want exactly one vector search, got %d", idx.searches.Load())
	}
	if gen.generations.Load() != 1 {
		t.Errorf("want exactly one generator call, got %d", gen.generations.Load())
	}

	// Different top_k misses the cache.
	if _, err := svc.Query(ctx, "X", 5); err != nil {
		t.Fatalf("query: %v", err)
	}
	if idx.searches.Load() != 2 {
		t.Errorf("top_k should be part of the cache key, got %d searches", idx.searches.Load())
	}

	svc.InvalidateAll()
	if _, err := svc.Query(ctx, "X", 3); err != nil {
		t.Fatalf("query: %v", err)
	}
	if idx.searches.Load() != 3 {
		t.Errorf("purge should force a fresh search, got %d", idx.searches.Load())
	}
}

func TestStreamQueryPreservesOrder(t *testing.T) {
	svc := NewService(&countingIndex{}, &countingGenerator{}, zaptest.NewLogger(t))

	stream, err := svc.StreamQuery(context.Background(), "X")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var chunks []string
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	joined := strings.Join(chunks, "")
	if joined != "chunk-1 chunk-2 chunk-3" {
		t.Errorf("order not preserved: %q", joined)
	}
}

func TestQuerySearchFailureSurfaces(t *testing.T) {
	svc := NewService(&failingIndex{}, &countingGenerator{}, zaptest.NewLogger(t))
	if _, err := svc.Query(context.Background(), "X", 3); err == nil {
		t.Error("search failure should surface")
	}
}

type failingIndex struct{}

func (f *failingIndex) Search(ctx context.Context, query string, topK int) ([]vector.Source, error) {
	return nil, errors.New("index offline")
}
func (f *failingIndex) AddDocuments(ctx context.Context, docs []vector.Document) error { return nil }
func (f *failingIndex) DeleteDocuments(ctx context.Context, ids []string) error        { return nil }
func (f *failingIndex) Count() (uint64, error)                                         { return 0, nil }
func (f *failingIndex) Close() error                                                   { return nil }
