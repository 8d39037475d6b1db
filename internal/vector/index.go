// Package vector provides the nearest-neighbour index collaborator used by
// retrieval. It is an opaque index over document content returning scored
// hits; this implementation is backed by Bleve with scores normalized into
// [0, 1].
package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/jsonx"
)

// Source is one retrieval hit.
type Source struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Document is one unit of indexed content.
type Document struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Index is the search contract consumed by retrieval.
type Index interface {
	Search(ctx context.Context, query string, topK int) ([]Source, error)
	AddDocuments(ctx context.Context, docs []Document) error
	DeleteDocuments(ctx context.Context, ids []string) error
	Count() (uint64, error)
	Close() error
}

// Config holds index configuration.
type Config struct {
	IndexPath string
	InMemory  bool
}

// BleveIndex implements Index over a Bleve full-text index.
type BleveIndex struct {
	index  bleve.Index
	logger *zap.Logger
	mu     sync.RWMutex
}

var _ Index = (*BleveIndex)(nil)

// storedDoc is the shape actually indexed. Metadata travels as a stored,
// unindexed JSON string.
type storedDoc struct {
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

// NewBleveIndex opens (creating if necessary) the index described by cfg.
func NewBleveIndex(cfg Config, logger *zap.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var index bleve.Index
	var err error
	if cfg.InMemory {
		index, err = bleve.NewMemOnly(buildMapping())
	} else {
		if dir := filepath.Dir(cfg.IndexPath); dir != "." && dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create index directory: %w", mkErr)
			}
		}
		index, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			index, err = bleve.New(cfg.IndexPath, buildMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	logger.Info("Vector index opened",
		zap.String("path", cfg.IndexPath),
		zap.Bool("in_memory", cfg.InMemory))
	return &BleveIndex{index: index, logger: logger.Named("vector")}, nil
}

func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Index = true
	contentField.Store = true
	contentField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("content", contentField)

	metadataField := bleve.NewTextFieldMapping()
	metadataField.Index = false
	metadataField.Store = true
	metadataField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("metadata", metadataField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("document", docMapping)
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// Search returns the topK best matches for query, scores scaled by the
// best hit so they land in [0, 1].
func (b *BleveIndex) Search(ctx context.Context, query string, topK int) ([]Source, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if topK <= 0 {
		topK = 3
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = topK
	req.Fields = []string{"content", "metadata"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sources := make([]Source, 0, len(result.Hits))
	for _, hit := range result.Hits {
		src := Source{ID: hit.ID, Score: normalizeScore(hit.Score, result.MaxScore)}
		if content, ok := hit.Fields["content"].(string); ok {
			src.Content = content
		}
		if meta, ok := hit.Fields["metadata"].(string); ok && meta != "" {
			var parsed map[string]interface{}
			if err := jsonx.UnmarshalFromString(meta, &parsed); err == nil {
				src.Metadata = parsed
			}
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// AddDocuments indexes docs in one batch.
func (b *BleveIndex) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	for _, doc := range docs {
		meta := ""
		if len(doc.Metadata) > 0 {
			encoded, err := jsonx.MarshalToString(doc.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", doc.ID, err)
			}
			meta = encoded
		}
		if err := batch.Index(doc.ID, storedDoc{Content: doc.Content, Metadata: meta}); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}

	b.logger.Debug("Indexed documents", zap.Int("count", len(docs)))
	return nil
}

// DeleteDocuments removes ids from the index.
func (b *BleveIndex) DeleteDocuments(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (b *BleveIndex) Count() (uint64, error) {
	return b.index.DocCount()
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func normalizeScore(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	n := score / max
	if n > 1 {
		n = 1
	}
	return n
}
