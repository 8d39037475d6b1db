package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

// storeFactories builds one fresh store per implementation so every contract
// test runs against both the in-memory reference and the SQLite store.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(zaptest.NewLogger(t))
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "graph.db")
			store, err := NewSQLiteStore(path, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return store
		},
	}
}

func runContract(t *testing.T, name string, fn func(t *testing.T, store Store)) {
	for impl, factory := range storeFactories(t) {
		t.Run(name+"/"+impl, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			fn(t, store)
		})
	}
}

func mustAddEntity(t *testing.T, store Store, id, entityType, name string) {
	t.Helper()
	err := store.AddEntity(context.Background(), Entity{ID: id, Type: entityType, Name: name})
	if err != nil {
		t.Fatalf("add entity %s: %v", id, err)
	}
}

func mustAddRelation(t *testing.T, store Store, id, source, target, relType string) {
	t.Helper()
	err := store.AddRelation(context.Background(), Relation{
		ID: id, SourceID: source, TargetID: target, Type: relType, Weight: 1.0,
	})
	if err != nil {
		t.Fatalf("add relation %s: %v", id, err)
	}
}

func TestEntityRoundTrip(t *testing.T) {
	runContract(t, "round_trip", func(t *testing.T, store Store) {
		ctx := context.Background()

		e := Entity{
			ID:   "e1",
			Type: "Person",
			Name: "王小明",
			Properties: Properties{
				"role": "researcher",
				"age":  int64(42),
			},
		}
		if err := store.AddEntity(ctx, e); err != nil {
			t.Fatalf("add: %v", err)
		}

		got, err := store.GetEntity(ctx, "e1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil {
			t.Fatal("expected entity, got nil")
		}
		if got.Name != e.Name || got.Type != e.Type {
			t.Errorf("round trip mismatch: got %+v", got)
		}
		if got.Properties["role"] != "researcher" {
			t.Errorf("properties not preserved: %+v", got.Properties)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not stamped")
		}

		deleted, err := store.DeleteEntity(ctx, "e1")
		if err != nil || !deleted {
			t.Fatalf("delete: deleted=%v err=%v", deleted, err)
		}
		got, err = store.GetEntity(ctx, "e1")
		if err != nil {
			t.Fatalf("get after delete: %v", err)
		}
		if got != nil {
			t.Errorf("entity survived delete: %+v", got)
		}
	})
}

func TestEntityUpsertKeepsCreatedAt(t *testing.T) {
	runContract(t, "upsert", func(t *testing.T, store Store) {
		ctx := context.Background()
		mustAddEntity(t, store, "e1", "Concept", "first")

		before, _ := store.GetEntity(ctx, "e1")
		if err := store.AddEntity(ctx, Entity{ID: "e1", Type: "Concept", Name: "second"}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		after, _ := store.GetEntity(ctx, "e1")

		if after.Name != "second" {
			t.Errorf("upsert did not update name: %s", after.Name)
		}
		if !after.CreatedAt.Equal(before.CreatedAt) {
			t.Errorf("created_at changed on upsert: %v != %v", after.CreatedAt, before.CreatedAt)
		}
	})
}

func TestRelationEndpointChecks(t *testing.T) {
	runContract(t, "endpoints", func(t *testing.T, store Store) {
		ctx := context.Background()
		mustAddEntity(t, store, "a", "Concept", "A")
		mustAddEntity(t, store, "b", "Concept", "B")

		err := store.AddRelation(ctx, Relation{ID: "r1", SourceID: "a", TargetID: "a", Type: "RELATED_TO"})
		if err != ErrSelfLoop {
			t.Errorf("self loop: want ErrSelfLoop, got %v", err)
		}

		err = store.AddRelation(ctx, Relation{ID: "r2", SourceID: "a", TargetID: "ghost", Type: "RELATED_TO"})
		if err == nil {
			t.Error("dangling endpoint accepted")
		}

		mustAddRelation(t, store, "r3", "a", "b", "RELATED_TO")
		rel, err := store.GetRelation(ctx, "r3")
		if err != nil || rel == nil {
			t.Fatalf("get relation: rel=%v err=%v", rel, err)
		}
		if rel.SourceID != "a" || rel.TargetID != "b" || rel.Weight != 1.0 {
			t.Errorf("relation round trip mismatch: %+v", rel)
		}
	})
}

func TestCascadedDelete(t *testing.T) {
	runContract(t, "cascade", func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, id := range []string{"A", "B", "C"} {
			mustAddEntity(t, store, id, "Concept", id)
		}
		mustAddRelation(t, store, "ab", "A", "B", "RELATED_TO")
		mustAddRelation(t, store, "bc", "B", "C", "RELATED_TO")
		mustAddRelation(t, store, "ac", "A", "C", "RELATED_TO")

		if _, err := store.DeleteEntity(ctx, "A"); err != nil {
			t.Fatalf("delete: %v", err)
		}

		stats, err := store.Statistics(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.TotalRelations != 1 {
			t.Errorf("want exactly 1 surviving relation, got %d", stats.TotalRelations)
		}
		survivor, _ := store.GetRelation(ctx, "bc")
		if survivor == nil {
			t.Error("B->C should survive the cascade")
		}
		for _, gone := range []string{"ab", "ac"} {
			if rel, _ := store.GetRelation(ctx, gone); rel != nil {
				t.Errorf("relation %s survived cascade", gone)
			}
		}
	})
}

func TestSearchEntities(t *testing.T) {
	runContract(t, "search", func(t *testing.T, store Store) {
		ctx := context.Background()
		mustAddEntity(t, store, "e1", "Policy", "長期照護2.0")
		mustAddEntity(t, store, "e2", "Organization", "衛福部")
		mustAddEntity(t, store, "e3", "Concept", "Long Term Care")

		hits, err := store.SearchEntities(ctx, "長期照護", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != "e1" {
			t.Errorf("name substring search failed: %+v", hits)
		}

		// Case-insensitive match over name.
		hits, err = store.SearchEntities(ctx, "long term", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != "e3" {
			t.Errorf("case-insensitive search failed: %+v", hits)
		}

		// Type is searchable too.
		hits, err = store.SearchEntities(ctx, "organization", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != "e2" {
			t.Errorf("type search failed: %+v", hits)
		}

		// Limit is respected.
		hits, err = store.SearchEntities(ctx, "", 2)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) > 2 {
			t.Errorf("limit ignored: %d results", len(hits))
		}
	})
}

func TestNeighborsAndDirections(t *testing.T) {
	runContract(t, "neighbors", func(t *testing.T, store Store) {
		ctx := context.Background()
		mustAddEntity(t, store, "doc", TypeDocument, "Document_doc")
		mustAddEntity(t, store, "x", "Concept", "X")
		mustAddEntity(t, store, "y", "Concept", "Y")
		mustAddRelation(t, store, "c1", "doc", "x", RelationContains)
		mustAddRelation(t, store, "c2", "doc", "y", RelationContains)
		mustAddRelation(t, store, "xy", "x", "y", "RELATED_TO")

		out, err := store.Neighbors(ctx, "doc", RelationContains, DirectionOutgoing)
		if err != nil {
			t.Fatalf("neighbors: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("want 2 contained entities, got %d", len(out))
		}

		in, err := store.Neighbors(ctx, "x", "", DirectionIncoming)
		if err != nil {
			t.Fatalf("neighbors: %v", err)
		}
		if len(in) != 1 || in[0].ID != "doc" {
			t.Errorf("incoming neighbors of x: %+v", in)
		}

		both, err := store.Neighbors(ctx, "x", "", DirectionBoth)
		if err != nil {
			t.Fatalf("neighbors: %v", err)
		}
		if len(both) != 2 {
			t.Errorf("want doc and y, got %+v", both)
		}

		rels, err := store.RelationsByEntity(ctx, "x", DirectionOutgoing)
		if err != nil {
			t.Fatalf("relations: %v", err)
		}
		if len(rels) != 1 || rels[0].ID != "xy" {
			t.Errorf("outgoing relations of x: %+v", rels)
		}

		byType, err := store.RelationsByType(ctx, RelationContains, 10)
		if err != nil {
			t.Fatalf("relations by type: %v", err)
		}
		if len(byType) != 2 {
			t.Errorf("want 2 CONTAINS relations, got %d", len(byType))
		}
	})
}

func TestPathEnumeration(t *testing.T) {
	runContract(t, "paths", func(t *testing.T, store Store) {
		ctx := context.Background()

		// Linear chain E0 -> E1 -> ... -> E9.
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("E%d", i)
			mustAddEntity(t, store, id, "Concept", id)
		}
		for i := 0; i < 9; i++ {
			mustAddRelation(t, store,
				fmt.Sprintf("r%d", i), fmt.Sprintf("E%d", i), fmt.Sprintf("E%d", i+1), "NEXT")
		}

		paths, err := store.Paths(ctx, "E0", "E9", 3)
		if err != nil {
			t.Fatalf("paths: %v", err)
		}
		if len(paths) != 0 {
			t.Errorf("9-hop target reachable within 3 hops: %v", paths)
		}

		paths, err = store.Paths(ctx, "E0", "E9", 9)
		if err != nil {
			t.Fatalf("paths: %v", err)
		}
		if len(paths) != 1 {
			t.Fatalf("want exactly one path, got %d", len(paths))
		}
		p := paths[0]
		if p[0] != "E0" || p[len(p)-1] != "E9" || len(p) != 10 {
			t.Errorf("malformed path: %v", p)
		}
		seen := make(map[string]bool)
		for _, node := range p {
			if seen[node] {
				t.Errorf("path revisits %s", node)
			}
			seen[node] = true
		}

		// Identical endpoints short-circuit.
		paths, err = store.Paths(ctx, "E3", "E3", 5)
		if err != nil {
			t.Fatalf("paths: %v", err)
		}
		if len(paths) != 1 || len(paths[0]) != 1 || paths[0][0] != "E3" {
			t.Errorf("self path: %v", paths)
		}
	})
}

func TestSubgraphDepthBoundary(t *testing.T) {
	runContract(t, "subgraph", func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			mustAddEntity(t, store, id, "Concept", id)
		}
		mustAddRelation(t, store, "ab", "a", "b", "RELATED_TO")
		mustAddRelation(t, store, "bc", "b", "c", "RELATED_TO")

		snap, err := store.Subgraph(ctx, []string{"a"}, 1)
		if err != nil {
			t.Fatalf("subgraph: %v", err)
		}

		// Depth 1 from a reaches b but not c; the boundary edge b->c is
		// still emitted.
		ids := make(map[string]bool)
		for _, e := range snap.Entities {
			ids[e.ID] = true
		}
		if !ids["a"] || !ids["b"] || ids["c"] {
			t.Errorf("depth boundary violated: %v", ids)
		}
		if len(snap.Relations) != 2 {
			t.Errorf("want both incident relations, got %d", len(snap.Relations))
		}
	})
}

func TestStatistics(t *testing.T) {
	runContract(t, "stats", func(t *testing.T, store Store) {
		ctx := context.Background()
		mustAddEntity(t, store, "d1", TypeDocument, "Document_d1")
		mustAddEntity(t, store, "p1", "Person", "P")
		mustAddEntity(t, store, "p2", "Person", "Q")
		mustAddRelation(t, store, "r1", "d1", "p1", RelationContains)

		stats, err := store.Statistics(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.TotalEntities != 3 || stats.TotalRelations != 1 {
			t.Errorf("totals: %+v", stats)
		}
		if stats.EntityTypes["Person"] != 2 || stats.EntityTypes[TypeDocument] != 1 {
			t.Errorf("entity type counts: %v", stats.EntityTypes)
		}
		if stats.RelationTypes[RelationContains] != 1 {
			t.Errorf("relation type counts: %v", stats.RelationTypes)
		}
	})
}

func TestEntitiesByType(t *testing.T) {
	runContract(t, "by_type", func(t *testing.T, store Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			mustAddEntity(t, store, fmt.Sprintf("d%d", i), TypeDocument, fmt.Sprintf("Document_%d", i))
		}
		mustAddEntity(t, store, "c1", "Concept", "other")

		docs, err := store.EntitiesByType(ctx, TypeDocument, 3)
		if err != nil {
			t.Fatalf("by type: %v", err)
		}
		if len(docs) != 3 {
			t.Errorf("limit ignored: %d", len(docs))
		}
		for _, d := range docs {
			if d.Type != TypeDocument {
				t.Errorf("wrong type in result: %+v", d)
			}
		}
	})
}
