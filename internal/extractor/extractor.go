// Package extractor turns raw text into graph entities and relations. It
// prefers model-driven structured extraction and falls back to rule-based
// extraction whenever the generator fails, so non-empty text always yields
// a non-empty entity set.
package extractor

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/graph"
	"github.com/graphrag-kernel/internal/llm"
)

// extractionTokenBudget bounds generator output for extraction calls.
const extractionTokenBudget = 1500

// Service drives entity and relation extraction.
type Service struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewService creates an extractor over the given generator.
func NewService(generator llm.Generator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		generator: generator,
		logger:    logger.Named("extractor"),
	}
}

// ExtractEntities extracts a deduplicated entity set from text. The
// optional entityTypes whitelist constrains the vocabulary offered to the
// generator. The result is empty only when text is empty.
func (s *Service) ExtractEntities(ctx context.Context, text string, entityTypes []string) ([]graph.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	entities, status := s.modelEntities(ctx, text, entityTypes)
	if status == parseOK && len(entities) > 0 {
		return entities, nil
	}

	s.logger.Info("Model extraction yielded nothing, using rule-based fallback",
		zap.Int("parse_status", int(status)))
	return fallbackEntities(text), nil
}

func (s *Service) modelEntities(ctx context.Context, text string, entityTypes []string) ([]graph.Entity, parseStatus) {
	response, err := s.generator.Generate(ctx, buildEntityPrompt(text, entityTypes), extractionTokenBudget, 0.1)
	if err != nil {
		s.logger.Warn("Entity extraction generation failed", zap.Error(err))
		return nil, parseFailed
	}

	objects, status := parseJSONArray(response)
	if status != parseOK {
		return nil, status
	}

	type dedupKey struct {
		name string
		typ  string
	}
	index := make(map[dedupKey]int)
	entities := make([]graph.Entity, 0, len(objects))

	for _, obj := range objects {
		name := strings.TrimSpace(getString(obj, "name"))
		if name == "" {
			continue
		}
		entityType := getString(obj, "type")
		if entityType == "" {
			entityType = graph.TypeConcept
		}
		props := graph.Properties(getProperties(obj, "properties"))

		key := dedupKey{name: strings.ToLower(name), typ: entityType}
		if at, dup := index[key]; dup {
			// Same (name, type) seen again: merge properties, last write
			// wins on colliding keys.
			if len(props) > 0 {
				if entities[at].Properties == nil {
					entities[at].Properties = make(graph.Properties, len(props))
				}
				for k, v := range props {
					entities[at].Properties[k] = v
				}
			}
			continue
		}

		index[key] = len(entities)
		entities = append(entities, graph.Entity{
			ID:         uuid.NewString(),
			Type:       entityType,
			Name:       name,
			Properties: props,
		})
	}

	if len(entities) == 0 {
		return nil, parseEmpty
	}
	return entities, parseOK
}

// ExtractRelations extracts typed relations among a known entity set.
// Fewer than two entities short-circuits to empty.
func (s *Service) ExtractRelations(ctx context.Context, text string, entities []graph.Entity) ([]graph.Relation, error) {
	if len(entities) < 2 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	relations, status := s.modelRelations(ctx, text, entities)
	if status == parseOK && len(relations) > 0 {
		return relations, nil
	}

	s.logger.Info("Model relation extraction yielded nothing, using rule-based fallback",
		zap.Int("parse_status", int(status)))
	return fallbackRelations(text, entities), nil
}

func (s *Service) modelRelations(ctx context.Context, text string, entities []graph.Entity) ([]graph.Relation, parseStatus) {
	response, err := s.generator.Generate(ctx, buildRelationPrompt(text, entities), extractionTokenBudget, 0.1)
	if err != nil {
		s.logger.Warn("Relation extraction generation failed", zap.Error(err))
		return nil, parseFailed
	}

	objects, status := parseJSONArray(response)
	if status != parseOK {
		return nil, status
	}

	relations := make([]graph.Relation, 0, len(objects))
	seen := make(map[[3]string]struct{})

	for _, obj := range objects {
		sourceName := getString(obj, "source")
		targetName := getString(obj, "target")
		if sourceName == "" || targetName == "" {
			continue
		}

		source := resolveEntity(sourceName, entities)
		target := resolveEntity(targetName, entities)
		if source == nil || target == nil || source.ID == target.ID {
			continue
		}

		relType := getString(obj, "type")
		if relType == "" {
			relType = "RELATED_TO"
		}

		key := [3]string{source.ID, target.ID, relType}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		relations = append(relations, graph.Relation{
			ID:         uuid.NewString(),
			SourceID:   source.ID,
			TargetID:   target.ID,
			Type:       relType,
			Weight:     getWeight(obj, "weight", weightExtracted),
			Properties: graph.Properties(getProperties(obj, "properties")),
		})
	}

	if len(relations) == 0 {
		return nil, parseEmpty
	}
	return relations, parseOK
}
