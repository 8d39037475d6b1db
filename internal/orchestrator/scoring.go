package orchestrator

import (
	"strings"

	"github.com/graphrag-kernel/internal/graph"
)

// Score rates an entity's relevance to a query on [0.55, 0.95]. Conditions
// are checked case-insensitively in priority order; the first match wins.
func Score(e graph.Entity, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	name := strings.ToLower(e.Name)

	switch {
	case q == "" || name == "":
		// Fall through to the weaker signals below.
	case q == name:
		return 0.95
	case strings.Contains(name, q):
		return 0.85
	case strings.Contains(q, name):
		return 0.80
	}

	if overlap, total := wordOverlap(q, name); overlap > 0 {
		return 0.60 + 0.20*float64(overlap)/float64(total)
	}

	entityType := strings.ToLower(e.Type)
	if q != "" && entityType != "" &&
		(strings.Contains(q, entityType) || strings.Contains(entityType, q)) {
		return 0.65
	}

	if q != "" {
		for _, v := range e.Properties {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
				return 0.70
			}
		}
	}
	return 0.55
}

// wordOverlap counts query words occurring in the name, returning the
// overlap and the query word count.
func wordOverlap(query, name string) (int, int) {
	queryWords := strings.Fields(query)
	if len(queryWords) == 0 {
		return 0, 1
	}
	nameWords := make(map[string]struct{})
	for _, w := range strings.Fields(name) {
		nameWords[w] = struct{}{}
	}
	overlap := 0
	for _, w := range queryWords {
		if _, ok := nameWords[w]; ok {
			overlap++
		}
	}
	return overlap, len(queryWords)
}
