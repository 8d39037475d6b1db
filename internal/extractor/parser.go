package extractor

import (
	"regexp"
	"strings"

	"github.com/graphrag-kernel/internal/jsonx"
)

// parseStatus is the outcome of structured-output parsing. Parsing is a
// total function: generator output never raises past this package, the
// caller switches on the discriminant instead.
type parseStatus int

const (
	parseOK parseStatus = iota
	parseEmpty
	parseFailed
)

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedAnyPattern  = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// parseJSONArray extracts a JSON array of objects from untrusted generator
// output. Candidate substrings are tried in order: a fenced json block, any
// fenced block, the span from the first '[' to the last ']', and the whole
// trimmed response. A candidate with unbalanced brackets fails outright.
func parseJSONArray(response string) ([]map[string]interface{}, parseStatus) {
	candidate, ok := extractCandidate(response)
	if !ok {
		return nil, parseFailed
	}
	if strings.Count(candidate, "[") != strings.Count(candidate, "]") {
		return nil, parseFailed
	}

	var items []interface{}
	if err := jsonx.UnmarshalFromString(candidate, &items); err != nil {
		return nil, parseFailed
	}
	if len(items) == 0 {
		return nil, parseEmpty
	}

	objects := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if obj, isObject := item.(map[string]interface{}); isObject {
			objects = append(objects, obj)
		}
	}
	if len(objects) == 0 {
		return nil, parseEmpty
	}
	return objects, parseOK
}

func extractCandidate(response string) (string, bool) {
	if m := fencedJSONPattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := fencedAnyPattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}

	first := strings.Index(response, "[")
	last := strings.LastIndex(response, "]")
	if first >= 0 && last > first {
		return response[first : last+1], true
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		return trimmed, true
	}
	return "", false
}

// getString reads a string field from an untyped JSON object.
func getString(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

// getProperties reads a nested object field, returning nil when absent or
// of the wrong shape.
func getProperties(obj map[string]interface{}, key string) map[string]interface{} {
	if v, ok := obj[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// getWeight reads a numeric field, defaulting when absent.
func getWeight(obj map[string]interface{}, key string, fallback float64) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return fallback
	}
}
