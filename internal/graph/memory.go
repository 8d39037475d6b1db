package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is the in-memory reference implementation of Store. It backs
// tests and ephemeral deployments; the SQLite store must behave identically
// under the shared contract suite.
type MemoryStore struct {
	mu              sync.RWMutex
	entities        map[string]Entity
	relations       map[string]Relation
	entityRelations map[string][]string // entity id -> incident relation ids
	logger          *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entities:        make(map[string]Entity),
		relations:       make(map[string]Relation),
		entityRelations: make(map[string][]string),
		logger:          logger,
	}
}

func (s *MemoryStore) AddEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.entities[e.ID]; ok {
		e.CreatedAt = existing.CreatedAt
		e.UpdatedAt = now
	} else {
		touch(&e, now)
	}
	s.entities[e.ID] = e
	return nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) DeleteEntity(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return false, nil
	}
	delete(s.entities, id)

	// Cascade: drop every relation touching the entity.
	for relID := range s.relations {
		rel := s.relations[relID]
		if rel.SourceID == id || rel.TargetID == id {
			s.removeRelationLocked(relID)
		}
	}
	delete(s.entityRelations, id)
	return true, nil
}

func (s *MemoryStore) AddRelation(ctx context.Context, r Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.SourceID == r.TargetID {
		return ErrSelfLoop
	}
	if _, ok := s.entities[r.SourceID]; !ok {
		return ErrMissingEndpoint
	}
	if _, ok := s.entities[r.TargetID]; !ok {
		return ErrMissingEndpoint
	}

	if existing, ok := s.relations[r.ID]; ok {
		r.CreatedAt = existing.CreatedAt
		s.removeRelationLocked(r.ID)
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	s.relations[r.ID] = r
	s.entityRelations[r.SourceID] = append(s.entityRelations[r.SourceID], r.ID)
	if r.TargetID != r.SourceID {
		s.entityRelations[r.TargetID] = append(s.entityRelations[r.TargetID], r.ID)
	}
	return nil
}

func (s *MemoryStore) GetRelation(ctx context.Context, id string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.relations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) DeleteRelation(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relations[id]; !ok {
		return false, nil
	}
	s.removeRelationLocked(id)
	return true, nil
}

// removeRelationLocked unlinks a relation from both endpoint indexes.
// Caller holds the write lock.
func (s *MemoryStore) removeRelationLocked(id string) {
	rel, ok := s.relations[id]
	if !ok {
		return
	}
	delete(s.relations, id)
	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		ids := s.entityRelations[endpoint]
		filtered := ids[:0]
		for _, relID := range ids {
			if relID != id {
				filtered = append(filtered, relID)
			}
		}
		if len(filtered) == 0 {
			delete(s.entityRelations, endpoint)
		} else {
			s.entityRelations[endpoint] = filtered
		}
	}
}

func (s *MemoryStore) EntitiesByType(ctx context.Context, entityType string, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Entity, 0)
	for _, e := range s.sortedEntitiesLocked() {
		if e.Type != entityType {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	results := make([]Entity, 0)
	for _, e := range s.sortedEntitiesLocked() {
		if strings.Contains(strings.ToLower(e.Name), needle) ||
			strings.Contains(strings.ToLower(e.Type), needle) {
			results = append(results, e)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

func (s *MemoryStore) Neighbors(ctx context.Context, id, relationType string, dir Direction) ([]Entity, error) {
	relations, err := s.RelationsByEntity(ctx, id, dir)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	neighbors := make([]Entity, 0)
	for _, rel := range relations {
		if relationType != "" && rel.Type != relationType {
			continue
		}
		other := rel.TargetID
		if other == id {
			other = rel.SourceID
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		if e, ok := s.entities[other]; ok {
			neighbors = append(neighbors, e)
		}
	}
	return neighbors, nil
}

func (s *MemoryStore) RelationsByEntity(ctx context.Context, id string, dir Direction) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Relation, 0)
	for _, relID := range s.entityRelations[id] {
		rel, ok := s.relations[relID]
		if !ok {
			continue
		}
		if matchesDirection(rel, id, dir) {
			results = append(results, rel)
		}
	}
	return results, nil
}

func (s *MemoryStore) RelationsByType(ctx context.Context, relationType string, limit int) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.relations))
	for id := range s.relations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]Relation, 0)
	for _, id := range ids {
		rel := s.relations[id]
		if rel.Type != relationType {
			continue
		}
		results = append(results, rel)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) Paths(ctx context.Context, source, target string, maxHops int) ([][]string, error) {
	return enumeratePaths(ctx, source, target, maxHops, func(ctx context.Context, id string) ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		out := make([]string, 0)
		for _, relID := range s.entityRelations[id] {
			if rel, ok := s.relations[relID]; ok && rel.SourceID == id {
				out = append(out, rel.TargetID)
			}
		}
		sort.Strings(out)
		return out, nil
	})
}

func (s *MemoryStore) Subgraph(ctx context.Context, seeds []string, maxDepth int) (*Snapshot, error) {
	return expandSubgraph(ctx, seeds, maxDepth, s.GetEntity, func(ctx context.Context, id string) ([]Relation, error) {
		return s.RelationsByEntity(ctx, id, DirectionBoth)
	})
}

func (s *MemoryStore) Statistics(ctx context.Context) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		TotalEntities:  int64(len(s.entities)),
		TotalRelations: int64(len(s.relations)),
		EntityTypes:    make(map[string]int64),
		RelationTypes:  make(map[string]int64),
	}
	for _, e := range s.entities {
		stats.EntityTypes[e.Type]++
	}
	for _, r := range s.relations {
		stats.RelationTypes[r.Type]++
	}
	return stats, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortedEntitiesLocked returns entities in stable id order so limits are
// deterministic. Caller holds at least the read lock.
func (s *MemoryStore) sortedEntitiesLocked() []Entity {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities := make([]Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, s.entities[id])
	}
	return entities
}

func matchesDirection(rel Relation, id string, dir Direction) bool {
	switch dir {
	case DirectionOutgoing:
		return rel.SourceID == id
	case DirectionIncoming:
		return rel.TargetID == id
	default:
		return rel.SourceID == id || rel.TargetID == id
	}
}
