// Package graph implements the property-graph knowledge store: typed
// entities, directed weighted relations, neighborhood and path traversals,
// and aggregate statistics. Two implementations of the Store contract are
// provided, a durable single-file SQLite store and an in-memory store.
package graph

import (
	"context"
	"errors"
	"time"
)

// Direction selects which incident edges of an entity to follow.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionBoth     Direction = "both"
)

// Well-known entity and relation types. Types are open strings; these are
// the ones the rest of the system assigns itself.
const (
	TypeDocument     = "Document"
	TypeConcept      = "Concept"
	RelationContains = "CONTAINS"
)

var (
	// ErrSelfLoop is returned when a relation's endpoints are the same entity.
	ErrSelfLoop = errors.New("graph: relation endpoints must differ")
	// ErrMissingEndpoint is returned when a relation references an entity
	// that does not exist in the store.
	ErrMissingEndpoint = errors.New("graph: relation endpoint does not exist")
)

// Properties is the open-schema payload attached to entities and relations.
// Values must be JSON-encodable.
type Properties map[string]interface{}

// Entity is a node in the property graph.
type Entity struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Relation is a directed, typed, weighted edge between two entities.
type Relation struct {
	ID         string     `json:"id"`
	SourceID   string     `json:"source_id"`
	TargetID   string     `json:"target_id"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties,omitempty"`
	Weight     float64    `json:"weight"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Snapshot is a self-consistent subgraph: every endpoint referenced by
// Relations that lies within the traversal depth appears in Entities.
type Snapshot struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Statistics summarizes store contents.
type Statistics struct {
	TotalEntities  int64            `json:"total_entities"`
	TotalRelations int64            `json:"total_relations"`
	EntityTypes    map[string]int64 `json:"entity_types"`
	RelationTypes  map[string]int64 `json:"relation_types"`
}

// Store is the graph persistence contract. Lookups return (nil, nil) when
// the id is unknown; deletes report whether anything was removed.
type Store interface {
	AddEntity(ctx context.Context, e Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	// DeleteEntity cascades to every relation incident to the entity.
	DeleteEntity(ctx context.Context, id string) (bool, error)

	// AddRelation verifies both endpoints exist and rejects self-loops.
	AddRelation(ctx context.Context, r Relation) error
	GetRelation(ctx context.Context, id string) (*Relation, error)
	DeleteRelation(ctx context.Context, id string) (bool, error)

	EntitiesByType(ctx context.Context, entityType string, limit int) ([]Entity, error)
	// SearchEntities matches query case-insensitively as a substring of
	// entity name or type.
	SearchEntities(ctx context.Context, query string, limit int) ([]Entity, error)

	Neighbors(ctx context.Context, id, relationType string, dir Direction) ([]Entity, error)
	RelationsByEntity(ctx context.Context, id string, dir Direction) ([]Relation, error)
	RelationsByType(ctx context.Context, relationType string, limit int) ([]Relation, error)

	// Paths enumerates simple paths from source to target with at most
	// maxHops edges, as id sequences.
	Paths(ctx context.Context, source, target string, maxHops int) ([][]string, error)
	// Subgraph expands breadth-first from the seed set up to maxDepth,
	// crossing edges in either direction.
	Subgraph(ctx context.Context, seeds []string, maxDepth int) (*Snapshot, error)

	Statistics(ctx context.Context) (*Statistics, error)
	Close() error
}

// touch stamps creation and update times on an entity that lacks them.
func touch(e *Entity, now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}
