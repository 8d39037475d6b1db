package graph

import "context"

// maxEnumeratedPaths bounds path enumeration so dense graphs cannot blow up
// a single request.
const maxEnumeratedPaths = 100

// outgoingFunc returns the ids reachable from id over outgoing edges.
type outgoingFunc func(ctx context.Context, id string) ([]string, error)

// incidentFunc returns every relation touching id, in either direction.
type incidentFunc func(ctx context.Context, id string) ([]Relation, error)

// lookupFunc resolves an id to an entity, (nil, nil) when unknown.
type lookupFunc func(ctx context.Context, id string) (*Entity, error)

type pathItem struct {
	id   string
	path []string
}

// enumeratePaths walks breadth-first from source following outgoing edges
// only. A node is expanded at most once (visited is keyed by node, not by
// path), which keeps the result set finite and dominated by shortest simple
// paths. Enumeration stops at maxEnumeratedPaths results.
func enumeratePaths(ctx context.Context, source, target string, maxHops int, outgoing outgoingFunc) ([][]string, error) {
	if source == target {
		return [][]string{{source}}, nil
	}

	results := make([][]string, 0)
	visited := make(map[string]struct{})
	queue := []pathItem{{id: source, path: []string{source}}}

	for len(queue) > 0 && len(results) < maxEnumeratedPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := queue[0]
		queue = queue[1:]

		// A path of k hops spans k+1 nodes.
		if len(item.path) > maxHops+1 {
			continue
		}
		if _, seen := visited[item.id]; seen {
			continue
		}
		visited[item.id] = struct{}{}

		neighbors, err := outgoing(ctx, item.id)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if n == target {
				if len(item.path)+1 <= maxHops+1 {
					results = append(results, appendPath(item.path, n))
					if len(results) >= maxEnumeratedPaths {
						break
					}
				}
				continue
			}
			if !containsID(item.path, n) {
				queue = append(queue, pathItem{id: n, path: appendPath(item.path, n)})
			}
		}
	}

	return results, nil
}

type depthItem struct {
	id    string
	depth int
}

// expandSubgraph performs a BFS from the seed set crossing edges in either
// direction. Every visited entity is included; every relation incident to a
// visited entity is included exactly once, even when its far endpoint lies
// beyond maxDepth.
func expandSubgraph(ctx context.Context, seeds []string, maxDepth int, lookup lookupFunc, incident incidentFunc) (*Snapshot, error) {
	snap := &Snapshot{
		Entities:  make([]Entity, 0),
		Relations: make([]Relation, 0),
	}

	visited := make(map[string]struct{})
	seenRelations := make(map[string]struct{})
	queue := make([]depthItem, 0, len(seeds))
	for _, id := range seeds {
		queue = append(queue, depthItem{id: id})
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := queue[0]
		queue = queue[1:]

		if _, seen := visited[item.id]; seen {
			continue
		}

		entity, err := lookup(ctx, item.id)
		if err != nil {
			return nil, err
		}
		if entity == nil {
			continue
		}
		visited[item.id] = struct{}{}
		snap.Entities = append(snap.Entities, *entity)

		relations, err := incident(ctx, item.id)
		if err != nil {
			return nil, err
		}
		for _, rel := range relations {
			if _, dup := seenRelations[rel.ID]; !dup {
				seenRelations[rel.ID] = struct{}{}
				snap.Relations = append(snap.Relations, rel)
			}
			if item.depth >= maxDepth {
				continue
			}
			next := rel.TargetID
			if next == item.id {
				next = rel.SourceID
			}
			if _, seen := visited[next]; !seen {
				queue = append(queue, depthItem{id: next, depth: item.depth + 1})
			}
		}
	}

	return snap, nil
}

func appendPath(path []string, id string) []string {
	next := make([]string, 0, len(path)+1)
	next = append(next, path...)
	return append(next, id)
}

func containsID(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
