// Package builder composes extraction output into persisted graph state:
// a document entity, its extracted entities, CONTAINS edges, and the typed
// relations among them.
package builder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/extractor"
	"github.com/graphrag-kernel/internal/graph"
)

// Result summarizes a single-document ingest.
type Result struct {
	DocumentID      string   `json:"document_id"`
	EntitiesCount   int      `json:"entities_count"`
	RelationsCount  int      `json:"relations_count"`
	FailedRelations int      `json:"failed_relations"`
	EntityIDs       []string `json:"entities"`
	RelationIDs     []string `json:"relations"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
}

// Document is one unit of batch ingestion.
type Document struct {
	ID          string
	Text        string
	Source      string
	EntityTypes []string
}

// BatchResult tallies a batch ingest.
type BatchResult struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Results   map[string]*Result `json:"results"`
	Errors    map[string]string  `json:"errors"`
}

// Service builds graph state from text.
type Service struct {
	store     graph.Store
	extractor *extractor.Service
	logger    *zap.Logger
}

// NewService creates a builder over the given store and extractor.
func NewService(store graph.Store, ex *extractor.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		extractor: ex,
		logger:    logger.Named("builder"),
	}
}

// BuildFromText ingests one document: extract entities, persist them along
// with a synthetic document entity, link everything with CONTAINS edges,
// then extract and persist typed relations. Individual relation failures
// are counted, not fatal.
func (s *Service) BuildFromText(ctx context.Context, text, documentID, source string, entityTypes []string) (*Result, error) {
	result := &Result{
		DocumentID:  documentID,
		EntityIDs:   make([]string, 0),
		RelationIDs: make([]string, 0),
		Status:      "completed",
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	entities, err := s.extractor.ExtractEntities(ctx, text, entityTypes)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}

	entities = append(entities, s.documentEntity(documentID, source))

	// Persist entities, keeping only those the store accepted.
	saved := make([]graph.Entity, 0, len(entities))
	for _, e := range entities {
		if err := s.store.AddEntity(ctx, e); err != nil {
			s.logger.Warn("Entity persist failed",
				zap.String("entity_id", e.ID),
				zap.String("name", e.Name),
				zap.Error(err))
			continue
		}
		saved = append(saved, e)
		result.EntityIDs = append(result.EntityIDs, e.ID)
	}
	result.EntitiesCount = len(saved)

	relations, err := s.extractor.ExtractRelations(ctx, text, saved)
	if err != nil {
		return nil, fmt.Errorf("extract relations: %w", err)
	}

	for _, e := range saved {
		if e.ID == documentID {
			continue
		}
		relations = append(relations, graph.Relation{
			ID:       fmt.Sprintf("%s_contains_%s", documentID, e.ID),
			SourceID: documentID,
			TargetID: e.ID,
			Type:     graph.RelationContains,
			Weight:   1.0,
			Properties: graph.Properties{
				"extracted_from": "document",
			},
		})
	}

	for _, r := range relations {
		if err := s.store.AddRelation(ctx, r); err != nil {
			result.FailedRelations++
			s.logger.Warn("Relation persist failed",
				zap.String("relation_id", r.ID),
				zap.String("type", r.Type),
				zap.Error(err))
			continue
		}
		result.RelationIDs = append(result.RelationIDs, r.ID)
	}
	result.RelationsCount = len(result.RelationIDs)

	s.logger.Info("Document ingested",
		zap.String("document_id", documentID),
		zap.Int("entities", result.EntitiesCount),
		zap.Int("relations", result.RelationsCount),
		zap.Int("failed_relations", result.FailedRelations))
	return result, nil
}

// UpdateFromText re-ingests a document: the old document entity is deleted
// (cascading to its relations) and the text is ingested fresh.
func (s *Service) UpdateFromText(ctx context.Context, text, documentID, source string, entityTypes []string) (*Result, error) {
	if _, err := s.store.DeleteEntity(ctx, documentID); err != nil {
		return nil, fmt.Errorf("delete previous document: %w", err)
	}
	return s.BuildFromText(ctx, text, documentID, source, entityTypes)
}

// BuildBatch ingests documents sequentially, tallying per-document success
// and failure. One failing document does not stop the batch.
func (s *Service) BuildBatch(ctx context.Context, docs []Document) *BatchResult {
	batch := &BatchResult{
		Results: make(map[string]*Result, len(docs)),
		Errors:  make(map[string]string),
	}
	for _, doc := range docs {
		result, err := s.BuildFromText(ctx, doc.Text, doc.ID, doc.Source, doc.EntityTypes)
		if err != nil {
			batch.Failed++
			batch.Errors[doc.ID] = err.Error()
			s.logger.Error("Batch document failed",
				zap.String("document_id", doc.ID),
				zap.Error(err))
			continue
		}
		batch.Succeeded++
		batch.Results[doc.ID] = result
	}
	return batch
}

func (s *Service) documentEntity(documentID, source string) graph.Entity {
	name := source
	if name == "" {
		name = "Document_" + documentID
	}
	return graph.Entity{
		ID:   documentID,
		Type: graph.TypeDocument,
		Name: name,
		Properties: graph.Properties{
			"source": "graph_builder",
		},
	}
}
