// Package orchestrator layers graph evidence over vector retrieval: it
// seeds entities from the query and the retrieved documents, expands their
// neighborhoods concurrently, rescores and fuses everything, and caches
// the composite result.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/cache"
	"github.com/graphrag-kernel/internal/graph"
	"github.com/graphrag-kernel/internal/jsonx"
	"github.com/graphrag-kernel/internal/rag"
	"github.com/graphrag-kernel/internal/vector"
)

// Options bound graph enhancement and result caching.
type Options struct {
	MaxEntities  int
	MaxNeighbors int
	CacheTTL     time.Duration
	TopKDefault  int

	// CacheObserver, when set, receives the outcome of every outer-cache
	// lookup.
	CacheObserver func(hit bool)
}

// DefaultOptions returns the stock limits.
func DefaultOptions() Options {
	return Options{
		MaxEntities:  5,
		MaxNeighbors: 3,
		CacheTTL:     time.Hour,
		TopKDefault:  3,
	}
}

// Result is the composite query response.
type Result struct {
	Answer         string           `json:"answer"`
	Sources        []vector.Source  `json:"sources"`
	Query          string           `json:"query"`
	GraphEnhanced  bool             `json:"graph_enhanced"`
	GraphEntities  []graph.Entity   `json:"graph_entities,omitempty"`
	GraphRelations []graph.Relation `json:"graph_relations,omitempty"`
}

// Orchestrator fuses vector and graph evidence. The graph store may be
// nil, in which case queries pass through retrieval untouched.
type Orchestrator struct {
	retrieval *rag.Service
	store     graph.Store
	results   *cache.TTLCache
	opts      Options
	logger    *zap.Logger
}

// New creates an orchestrator. results may be nil to disable the outer
// cache.
func New(retrieval *rag.Service, store graph.Store, results *cache.TTLCache, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxEntities <= 0 {
		opts.MaxEntities = 5
	}
	if opts.MaxNeighbors <= 0 {
		opts.MaxNeighbors = 3
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.TopKDefault <= 0 {
		opts.TopKDefault = 3
	}
	return &Orchestrator{
		retrieval: retrieval,
		store:     store,
		results:   results,
		opts:      opts,
		logger:    logger.Named("orchestrator"),
	}
}

// Query answers a question with graph-enhanced retrieval. Any graph-side
// failure degrades to the pure vector result; only retrieval failures fail
// the request.
func (o *Orchestrator) Query(ctx context.Context, query string, topK int) (*Result, error) {
	if topK <= 0 {
		topK = o.opts.TopKDefault
	}

	key := cache.Key("graphrag_query", []interface{}{query}, map[string]interface{}{"top_k": topK})
	if o.results != nil {
		if data, ok := o.results.Get(ctx, key); ok {
			var cached Result
			if err := jsonx.Unmarshal(data, &cached); err == nil {
				o.observeCacheLookup(true)
				return &cached, nil
			}
			o.logger.Warn("Dropping undecodable cached result", zap.String("key", key))
		}
		o.observeCacheLookup(false)
	}

	base, err := o.retrieval.Query(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	result := &Result{
		Answer:  base.Answer,
		Sources: base.Sources,
		Query:   query,
	}

	if o.store != nil {
		enhancement, err := o.enhance(ctx, query, base.Sources)
		if err != nil {
			o.logger.Error("Graph enhancement failed, returning vector-only results",
				zap.String("query", query),
				zap.Error(err))
		} else if enhancement != nil {
			result.Sources = fuse(base.Sources, enhancement.sources, topK)
			result.GraphEnhanced = len(enhancement.sources) > 0
			result.GraphEntities = enhancement.entities
			result.GraphRelations = enhancement.relations
		}
	}

	if o.results != nil {
		if data, err := jsonx.Marshal(result); err == nil {
			o.results.Set(ctx, key, data, o.opts.CacheTTL)
		}
	}
	return result, nil
}

func (o *Orchestrator) observeCacheLookup(hit bool) {
	if o.opts.CacheObserver != nil {
		o.opts.CacheObserver(hit)
	}
}

// StreamQuery is a passthrough to retrieval streaming. Graph enhancement
// is not applied to streams, since graph context cannot be injected
// mid-stream without re-prompting.
func (o *Orchestrator) StreamQuery(ctx context.Context, query string) (<-chan string, error) {
	return o.retrieval.StreamQuery(ctx, query)
}

// enhancement is the intermediate product of graph expansion.
type enhancement struct {
	sources   []vector.Source
	entities  []graph.Entity
	relations []graph.Relation
}

// seedLookup is the per-document half of seed collection.
type seedLookup struct {
	document  *graph.Entity
	contained []graph.Entity
	err       error
}

// neighborhood is the per-seed half of expansion.
type neighborhood struct {
	neighbors []graph.Entity
	relations []graph.Relation
	err       error
}

func (o *Orchestrator) enhance(ctx context.Context, query string, sources []vector.Source) (*enhancement, error) {
	docIDs := orderedUniqueIDs(sources)
	if len(docIDs) == 0 {
		return nil, nil
	}
	if len(docIDs) > o.opts.MaxEntities {
		docIDs = docIDs[:o.opts.MaxEntities]
	}

	// Fan out: semantic entity search and per-document CONTAINS expansion
	// run concurrently; results are reassembled in input order.
	var wg sync.WaitGroup
	var searched []graph.Entity
	var searchErr error
	lookups := make([]seedLookup, len(docIDs))

	wg.Add(1)
	go func() {
		defer wg.Done()
		searched, searchErr = o.store.SearchEntities(ctx, query, o.opts.MaxEntities)
	}()

	for i, docID := range docIDs {
		wg.Add(1)
		go func(slot int, id string) {
			defer wg.Done()
			doc, err := o.store.GetEntity(ctx, id)
			if err != nil {
				lookups[slot].err = err
				return
			}
			lookups[slot].document = doc
			contained, err := o.store.Neighbors(ctx, id, graph.RelationContains, graph.DirectionOutgoing)
			if err != nil {
				lookups[slot].err = err
				return
			}
			lookups[slot].contained = contained
		}(i, docID)
	}
	wg.Wait()

	if searchErr != nil {
		return nil, fmt.Errorf("entity search: %w", searchErr)
	}
	for _, lookup := range lookups {
		if lookup.err != nil {
			return nil, fmt.Errorf("document expansion: %w", lookup.err)
		}
	}

	// Merge into the ordered-unique seed set: search hits first, then each
	// document and its contained entities.
	entitySet := newEntitySet()
	entitySet.addAll(searched)
	for _, lookup := range lookups {
		if lookup.document != nil {
			entitySet.add(*lookup.document)
		}
		entitySet.addAll(lookup.contained)
	}

	seeds := entitySet.ordered()
	if len(seeds) > o.opts.MaxEntities {
		seeds = seeds[:o.opts.MaxEntities]
	}

	// Fan out again: neighborhood and incident relations per seed.
	neighborhoods := make([]neighborhood, len(seeds))
	for i, seed := range seeds {
		wg.Add(1)
		go func(slot int, id string) {
			defer wg.Done()
			neighbors, err := o.store.Neighbors(ctx, id, "", graph.DirectionBoth)
			if err != nil {
				neighborhoods[slot].err = err
				return
			}
			relations, err := o.store.RelationsByEntity(ctx, id, graph.DirectionBoth)
			if err != nil {
				neighborhoods[slot].err = err
				return
			}
			neighborhoods[slot].neighbors = neighbors
			neighborhoods[slot].relations = relations
		}(i, seed.ID)
	}
	wg.Wait()

	for _, nb := range neighborhoods {
		if nb.err != nil {
			return nil, fmt.Errorf("neighborhood expansion: %w", nb.err)
		}
	}

	result := &enhancement{}
	seenRelations := make(map[string]struct{})
	for _, nb := range neighborhoods {
		taken := 0
		for _, neighbor := range nb.neighbors {
			if taken >= o.opts.MaxNeighbors {
				break
			}
			taken++
			if !entitySet.add(neighbor) {
				continue
			}
			result.sources = append(result.sources, vector.Source{
				ID:      neighbor.ID,
				Content: neighbor.Name,
				Score:   Score(neighbor, query),
				Metadata: map[string]interface{}{
					"source":     "graph",
					"type":       neighbor.Type,
					"properties": neighbor.Properties,
				},
			})
		}
		for _, rel := range nb.relations {
			if _, dup := seenRelations[rel.ID]; dup {
				continue
			}
			seenRelations[rel.ID] = struct{}{}
			result.relations = append(result.relations, rel)
		}
	}

	result.entities = entitySet.ordered()
	return result, nil
}

// fuse merges vector and graph sources, deduplicating by id with the
// vector side winning, then sorts by descending score and cuts to topK.
func fuse(vectorSources, graphSources []vector.Source, topK int) []vector.Source {
	fused := make([]vector.Source, 0, len(vectorSources)+len(graphSources))
	seen := make(map[string]struct{}, len(vectorSources))

	for _, src := range vectorSources {
		seen[src.ID] = struct{}{}
		fused = append(fused, src)
	}
	for _, src := range graphSources {
		if _, dup := seen[src.ID]; dup {
			continue
		}
		seen[src.ID] = struct{}{}
		fused = append(fused, src)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

func orderedUniqueIDs(sources []vector.Source) []string {
	seen := make(map[string]struct{}, len(sources))
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.ID == "" {
			continue
		}
		if _, dup := seen[src.ID]; dup {
			continue
		}
		seen[src.ID] = struct{}{}
		ids = append(ids, src.ID)
	}
	return ids
}

// entitySet keeps entities unique by id while preserving first-seen order.
type entitySet struct {
	index map[string]struct{}
	items []graph.Entity
}

func newEntitySet() *entitySet {
	return &entitySet{index: make(map[string]struct{})}
}

// add inserts the entity if unseen, reporting whether it was new.
func (s *entitySet) add(e graph.Entity) bool {
	if _, dup := s.index[e.ID]; dup {
		return false
	}
	s.index[e.ID] = struct{}{}
	s.items = append(s.items, e)
	return true
}

func (s *entitySet) addAll(entities []graph.Entity) {
	for _, e := range entities {
		s.add(e)
	}
}

func (s *entitySet) ordered() []graph.Entity {
	return s.items
}
