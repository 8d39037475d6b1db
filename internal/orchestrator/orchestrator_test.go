package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/graphrag-kernel/internal/cache"
	"github.com/graphrag-kernel/internal/graph"
	"github.com/graphrag-kernel/internal/rag"
	"github.com/graphrag-kernel/internal/vector"
)

type stubIndex struct {
	hits     []vector.Source
	searches atomic.Int64
}

func (s *stubIndex) Search(ctx context.Context, query string, topK int) ([]vector.Source, error) {
	s.searches.Add(1)
	return s.hits, nil
}
func (s *stubIndex) AddDocuments(ctx context.Context, docs []vector.Document) error { return nil }
func (s *stubIndex) DeleteDocuments(ctx context.Context, ids []string) error        { return nil }
func (s *stubIndex) Count() (uint64, error)                                         { return 0, nil }
func (s *stubIndex) Close() error                                                   { return nil }

type stubGenerator struct{}

func (g *stubGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return "generated answer", nil
}
func (g *stubGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan string, error) {
	out := make(chan string, 1)
	out <- "generated answer"
	close(out)
	return out, nil
}

// brokenStore fails every operation, standing in for a dead backend.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (b *brokenStore) AddEntity(ctx context.Context, e graph.Entity) error { return errStoreDown }
func (b *brokenStore) GetEntity(ctx context.Context, id string) (*graph.Entity, error) {
	return nil, errStoreDown
}
func (b *brokenStore) DeleteEntity(ctx context.Context, id string) (bool, error) {
	return false, errStoreDown
}
func (b *brokenStore) AddRelation(ctx context.Context, r graph.Relation) error { return errStoreDown }
func (b *brokenStore) GetRelation(ctx context.Context, id string) (*graph.Relation, error) {
	return nil, errStoreDown
}
func (b *brokenStore) DeleteRelation(ctx context.Context, id string) (bool, error) {
	return false, errStoreDown
}
func (b *brokenStore) EntitiesByType(ctx context.Context, t string, limit int) ([]graph.Entity, error) {
	return nil, errStoreDown
}
func (b *brokenStore) SearchEntities(ctx context.Context, q string, limit int) ([]graph.Entity, error) {
	return nil, errStoreDown
}
func (b *brokenStore) Neighbors(ctx context.Context, id, rt string, d graph.Direction) ([]graph.Entity, error) {
	return nil, errStoreDown
}
func (b *brokenStore) RelationsByEntity(ctx context.Context, id string, d graph.Direction) ([]graph.Relation, error) {
	return nil, errStoreDown
}
func (b *brokenStore) RelationsByType(ctx context.Context, t string, limit int) ([]graph.Relation, error) {
	return nil, errStoreDown
}
func (b *brokenStore) Paths(ctx context.Context, s, t string, h int) ([][]string, error) {
	return nil, errStoreDown
}
func (b *brokenStore) Subgraph(ctx context.Context, seeds []string, d int) (*graph.Snapshot, error) {
	return nil, errStoreDown
}
func (b *brokenStore) Statistics(ctx context.Context) (*graph.Statistics, error) {
	return nil, errStoreDown
}
func (b *brokenStore) Close() error { return nil }

func newTestCache(t *testing.T) *cache.TTLCache {
	t.Helper()
	c, err := cache.New(0, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// seededStore builds a graph with one document containing two entities and
// one typed relation between them.
func seededStore(t *testing.T) graph.Store {
	t.Helper()
	store := graph.NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	entities := []graph.Entity{
		{ID: "d1", Type: graph.TypeDocument, Name: "Document_d1"},
		{ID: "pol", Type: "Policy", Name: "長期照護2.0"},
		{ID: "org", Type: "Organization", Name: "衛福部"},
		{ID: "city", Type: "Location", Name: "台北市"},
	}
	for _, e := range entities {
		if err := store.AddEntity(ctx, e); err != nil {
			t.Fatalf("seed entity: %v", err)
		}
	}
	relations := []graph.Relation{
		{ID: "d1_contains_pol", SourceID: "d1", TargetID: "pol", Type: graph.RelationContains, Weight: 1},
		{ID: "d1_contains_org", SourceID: "d1", TargetID: "org", Type: graph.RelationContains, Weight: 1},
		{ID: "manages", SourceID: "org", TargetID: "pol", Type: "MANAGES", Weight: 1},
		{ID: "located", SourceID: "pol", TargetID: "city", Type: "LOCATED_IN", Weight: 0.5},
	}
	for _, r := range relations {
		if err := store.AddRelation(ctx, r); err != nil {
			t.Fatalf("seed relation: %v", err)
		}
	}
	return store
}

func newOrchestrator(t *testing.T, store graph.Store, idx vector.Index) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	retrieval := rag.NewService(idx, &stubGenerator{}, logger)
	return New(retrieval, store, newTestCache(t), DefaultOptions(), logger)
}

func TestScoreTable(t *testing.T) {
	cases := []struct {
		name   string
		entity graph.Entity
		query  string
		want   float64
	}{
		{"exact", graph.Entity{Name: "長期照護2.0"}, "長期照護2.0", 0.95},
		{"query_in_name", graph.Entity{Name: "長期照護2.0"}, "長期照護", 0.85},
		{"name_in_query", graph.Entity{Name: "長照"}, "請問長照政策", 0.80},
		{"word_overlap", graph.Entity{Name: "policy review care"}, "care policy", 0.80},
		{"type_match", graph.Entity{Name: "某某", Type: "Policy"}, "policy", 0.65},
		{"property_match", graph.Entity{Name: "某某", Properties: graph.Properties{"alias": "long term care"}}, "term care", 0.70},
		{"no_signal", graph.Entity{Name: "unrelated", Type: "Other"}, "量子力學", 0.55},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.entity, tc.query)
			if got < 0.55 || got > 0.95 {
				t.Errorf("score out of range: %f", got)
			}
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score(%q) = %f, want %f", tc.query, got, tc.want)
			}
		})
	}
}

func TestScoreMonotoneInOverlap(t *testing.T) {
	exact := graph.Entity{Name: "budget review"}
	disjoint := graph.Entity{Name: "zebra migration"}
	q := "budget review"
	if Score(exact, q) < Score(disjoint, q) {
		t.Error("exact name match must outrank disjoint names")
	}
}

func TestFuseVectorWinsAndSorts(t *testing.T) {
	vectorSources := []vector.Source{
		{ID: "a", Content: "vector-a", Score: 0.4},
		{ID: "b", Content: "vector-b", Score: 0.9},
	}
	graphSources := []vector.Source{
		{ID: "a", Content: "graph-a", Score: 0.99},
		{ID: "c", Content: "graph-c", Score: 0.7},
	}

	fused := fuse(vectorSources, graphSources, 10)
	if len(fused) != 3 {
		t.Fatalf("fused length: %d", len(fused))
	}
	for _, src := range fused {
		if src.ID == "a" && src.Content != "vector-a" {
			t.Errorf("vector source must win the id collision: %+v", src)
		}
	}
	for i := 1; i < len(fused); i++ {
		if fused[i].Score > fused[i-1].Score {
			t.Errorf("not sorted descending: %+v", fused)
		}
	}

	cut := fuse(vectorSources, graphSources, 2)
	if len(cut) != 2 {
		t.Errorf("topK cut: %d", len(cut))
	}
}

func TestQueryGraphEnhancement(t *testing.T) {
	idx := &stubIndex{hits: []vector.Source{{ID: "d1", Content: "doc text", Score: 0.9}}}
	orch := newOrchestrator(t, seededStore(t), idx)

	result, err := orch.Query(context.Background(), "長期照護", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !result.GraphEnhanced {
		t.Fatal("expected graph enhancement")
	}

	var foundPolicy bool
	for _, e := range result.GraphEntities {
		if e.Name == "長期照護2.0" {
			foundPolicy = true
		}
	}
	if !foundPolicy {
		t.Errorf("policy entity missing from graph entities: %+v", result.GraphEntities)
	}

	// The non-seed neighbor (台北市) surfaces as a graph pseudo-source.
	var citySource *vector.Source
	for i := range result.Sources {
		if result.Sources[i].ID == "city" {
			citySource = &result.Sources[i]
		}
	}
	if citySource == nil {
		t.Fatalf("neighbor pseudo-source missing: %+v", result.Sources)
	}
	if citySource.Content != "台北市" {
		t.Errorf("pseudo-source content should be the entity name: %+v", citySource)
	}
	if citySource.Score < 0.55 || citySource.Score > 0.95 {
		t.Errorf("pseudo-source score out of range: %f", citySource.Score)
	}
	if citySource.Metadata["source"] != "graph" || citySource.Metadata["type"] != "Location" {
		t.Errorf("graph source metadata: %+v", citySource.Metadata)
	}

	if len(result.GraphRelations) == 0 {
		t.Error("expected graph relations attached")
	}
	for i := 1; i < len(result.Sources); i++ {
		if result.Sources[i].Score > result.Sources[i-1].Score {
			t.Errorf("sources not sorted: %+v", result.Sources)
		}
	}
}

func TestQueryDegradesOnBrokenStore(t *testing.T) {
	idx := &stubIndex{hits: []vector.Source{{ID: "d1", Content: "doc text", Score: 0.9}}}
	orch := newOrchestrator(t, &brokenStore{}, idx)

	result, err := orch.Query(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("degradation must not fail the request: %v", err)
	}
	if result.GraphEnhanced {
		t.Error("graph_enhanced should be false when the store is down")
	}
	if len(result.GraphEntities) != 0 || len(result.GraphRelations) != 0 {
		t.Errorf("no graph fields expected: %+v", result)
	}
	if result.Answer != "generated answer" || len(result.Sources) != 1 {
		t.Errorf("vector results must survive: %+v", result)
	}
}

func TestQueryWithoutStore(t *testing.T) {
	idx := &stubIndex{hits: []vector.Source{{ID: "d1", Score: 0.5}}}
	orch := newOrchestrator(t, nil, idx)

	result, err := orch.Query(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.GraphEnhanced {
		t.Error("no store, no enhancement")
	}
}

func TestQueryOuterCache(t *testing.T) {
	idx := &stubIndex{hits: []vector.Source{{ID: "d1", Content: "doc", Score: 0.9}}}
	orch := newOrchestrator(t, seededStore(t), idx)
	ctx := context.Background()

	first, err := orch.Query(ctx, "長期照護", 3)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	second, err := orch.Query(ctx, "長期照護", 3)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if idx.searches.Load() != 1 {
		t.Errorf("second query should come from the outer cache, got %d searches", idx.searches.Load())
	}
	if second.Answer != first.Answer || second.GraphEnhanced != first.GraphEnhanced {
		t.Errorf("cached result mismatch: %+v vs %+v", first, second)
	}
}

func TestQueryReportsCacheLookups(t *testing.T) {
	idx := &stubIndex{hits: []vector.Source{{ID: "d1", Content: "doc", Score: 0.9}}}
	logger := zaptest.NewLogger(t)
	retrieval := rag.NewService(idx, &stubGenerator{}, logger)

	var hits, misses atomic.Int64
	opts := DefaultOptions()
	opts.CacheObserver = func(hit bool) {
		if hit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
	}
	orch := New(retrieval, seededStore(t), newTestCache(t), opts, logger)
	ctx := context.Background()

	if _, err := orch.Query(ctx, "長期照護", 3); err != nil {
		t.Fatalf("first query: %v", err)
	}
	if _, err := orch.Query(ctx, "長期照護", 3); err != nil {
		t.Fatalf("second query: %v", err)
	}

	if misses.Load() != 1 {
		t.Errorf("misses: %d", misses.Load())
	}
	if hits.Load() != 1 {
		t.Errorf("hits: %d", hits.Load())
	}
}

func TestSourcesBoundedByTopK(t *testing.T) {
	idx := &stubIndex{hits: []vector.Source{
		{ID: "d1", Score: 0.9}, {ID: "x1", Score: 0.8}, {ID: "x2", Score: 0.7},
	}}
	orch := newOrchestrator(t, seededStore(t), idx)

	result, err := orch.Query(context.Background(), "長期照護", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Sources) > 2 {
		t.Errorf("topK bound violated: %d sources", len(result.Sources))
	}
}
