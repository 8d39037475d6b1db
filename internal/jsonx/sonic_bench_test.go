package jsonx

import (
	"encoding/json"
	"testing"
)

// benchEntity mirrors the shape of graph payloads crossing the API.
type benchEntity struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type benchResult struct {
	Answer   string        `json:"answer"`
	Query    string        `json:"query"`
	Entities []benchEntity `json:"entities"`
}

var benchPayload = benchResult{
	Answer: "長期照護2.0由衛福部管理，涵蓋台北市等地區。",
	Query:  "長期照護",
	Entities: []benchEntity{
		{ID: "e1", Type: "Policy", Name: "長期照護2.0", Properties: map[string]interface{}{"year": 2017}},
		{ID: "e2", Type: "Organization", Name: "衛福部"},
		{ID: "e3", Type: "Location", Name: "台北市", Properties: map[string]interface{}{"region": "north"}},
	},
}

func BenchmarkSonicMarshal(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(benchPayload)
	}
}

func BenchmarkStdlibMarshal(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = json.Marshal(benchPayload)
	}
}

func BenchmarkSonicUnmarshal(b *testing.B) {
	data, _ := json.Marshal(benchPayload)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		var out benchResult
		_ = Unmarshal(data, &out)
	}
}

func BenchmarkCanonicalMarshal(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = MarshalCanonical(benchPayload)
	}
}
