package extractor

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/graphrag-kernel/internal/graph"
)

// Relation weights by extraction confidence. Generator-extracted relations
// default to 1.0; pattern matches and pure co-occurrence carry lower
// weights and must never be conflated.
const (
	weightExtracted    = 1.0
	weightPattern      = 0.5
	weightCooccurrence = 0.3
)

// maxFallbackEntities caps rule-based entity extraction.
const maxFallbackEntities = 50

var (
	hanRunPattern     = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,6}`)
	latinTokenPattern = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	sentenceSplitter  = regexp.MustCompile(`[。！？\n]`)
)

// hanSuffixTypes types a Han run by its trailing characters. Order matters:
// first match wins.
var hanSuffixTypes = []struct {
	suffix     string
	entityType string
}{
	{"政策", "Policy"},
	{"制度", "System"},
	{"服務", "Service"},
	{"計畫", "Plan"},
	{"方案", "Program"},
	{"機構", "Organization"},
	{"單位", "Organization"},
	{"部門", "Organization"},
	{"人員", "Person"},
}

// relationPatterns are the surface patterns of the relation fallback. Each
// capture pair resolves against the known entity set.
var relationPatterns = []struct {
	re      *regexp.Regexp
	relType string
}{
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)在([\x{4e00}-\x{9fff}0-9\.]+)`), "LOCATED_IN"},
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)屬於([\x{4e00}-\x{9fff}0-9\.]+)`), "BELONGS_TO"},
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)是([\x{4e00}-\x{9fff}0-9\.]+)`), "IS_A"},
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)包含([\x{4e00}-\x{9fff}0-9\.]+)`), "CONTAINS"},
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)與([\x{4e00}-\x{9fff}0-9\.]+)相關`), "RELATED_TO"},
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)由([\x{4e00}-\x{9fff}0-9\.]+)組成`), "CONSISTS_OF"},
	{regexp.MustCompile(`([\x{4e00}-\x{9fff}0-9\.]+)管理([\x{4e00}-\x{9fff}0-9\.]+)`), "MANAGES"},
	{regexp.MustCompile(`(\w+) in (\w+)`), "LOCATED_IN"},
	{regexp.MustCompile(`(\w+) belongs to (\w+)`), "BELONGS_TO"},
	{regexp.MustCompile(`(\w+) is an? (\w+)`), "IS_A"},
	{regexp.MustCompile(`(\w+) contains (\w+)`), "CONTAINS"},
}

// fallbackEntities is the rule-based entity extractor: Han runs of 2-6
// characters typed by suffix, plus capitalized Latin tokens, deduplicated
// by name and capped.
func fallbackEntities(text string) []graph.Entity {
	entities := make([]graph.Entity, 0)
	seen := make(map[string]struct{})

	add := func(name, entityType string, props graph.Properties) {
		if len(entities) >= maxFallbackEntities {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		entities = append(entities, graph.Entity{
			ID:         uuid.NewString(),
			Type:       entityType,
			Name:       name,
			Properties: props,
		})
	}

	for _, run := range hanRunPattern.FindAllString(text, -1) {
		add(run, hanRunType(run), graph.Properties{
			"extracted_by": "rule_based",
			"language":     "chinese",
		})
	}

	for _, token := range latinTokenPattern.FindAllString(text, -1) {
		if len(token) <= 2 {
			continue
		}
		add(token, graph.TypeConcept, graph.Properties{
			"extracted_by": "rule_based",
			"language":     "english",
		})
	}

	return entities
}

func hanRunType(run string) string {
	for _, entry := range hanSuffixTypes {
		if strings.HasSuffix(run, entry.suffix) {
			return entry.entityType
		}
	}
	return graph.TypeConcept
}

// fallbackRelations is the rule-based relation extractor: surface patterns
// at weight 0.5, then a sentence co-occurrence pass at weight 0.3 when no
// pattern matched anywhere.
func fallbackRelations(text string, entities []graph.Entity) []graph.Relation {
	if len(entities) < 2 {
		return nil
	}

	relations := make([]graph.Relation, 0)
	seen := make(map[[3]string]struct{})

	add := func(sourceID, targetID, relType string, weight float64, props graph.Properties) {
		if sourceID == targetID {
			return
		}
		key := [3]string{sourceID, targetID, relType}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		relations = append(relations, graph.Relation{
			ID:         uuid.NewString(),
			SourceID:   sourceID,
			TargetID:   targetID,
			Type:       relType,
			Weight:     weight,
			Properties: props,
		})
	}

	for _, pattern := range relationPatterns {
		for _, m := range pattern.re.FindAllStringSubmatch(text, -1) {
			source := resolveEntity(m[1], entities)
			target := resolveEntity(m[2], entities)
			if source == nil || target == nil {
				continue
			}
			add(source.ID, target.ID, pattern.relType, weightPattern, graph.Properties{
				"extracted_by": "rule_based",
				"source_text":  m[1],
				"target_text":  m[2],
			})
		}
	}
	if len(relations) > 0 {
		return relations
	}

	// Nothing matched: co-occurrence pass over sentences.
	for _, sentence := range sentenceSplitter.Split(text, -1) {
		if len([]rune(sentence)) < 5 {
			continue
		}
		var present []graph.Entity
		for _, e := range entities {
			if e.Name != "" && strings.Contains(sentence, e.Name) {
				present = append(present, e)
			}
		}
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				add(present[i].ID, present[j].ID, "RELATED_TO", weightCooccurrence, graph.Properties{
					"method":   "co_occurrence",
					"sentence": truncateRunes(sentence, 100),
				})
			}
		}
	}
	return relations
}

// resolveEntity maps a mention to a known entity: exact name match first,
// then substring containment in either direction. First match wins.
func resolveEntity(mention string, entities []graph.Entity) *graph.Entity {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return nil
	}
	for i := range entities {
		if entities[i].Name == mention {
			return &entities[i]
		}
	}
	for i := range entities {
		name := entities[i].Name
		if name == "" {
			continue
		}
		if strings.Contains(name, mention) || strings.Contains(mention, name) {
			return &entities[i]
		}
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
