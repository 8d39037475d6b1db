package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/events"
	"github.com/graphrag-kernel/internal/extractor"
	"github.com/graphrag-kernel/internal/graph"
	"github.com/graphrag-kernel/internal/jsonx"
	"github.com/graphrag-kernel/internal/vector"
)

// maxIngestContent bounds a single ingest body.
const maxIngestContent = 1_000_000

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

func decodeBody(r *http.Request, v interface{}) error {
	return jsonx.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"llm_provider":   string(s.services.LLM.Provider()),
	})
}

// QueryRequest is the body of /api/v1/query and /api/v1/knowledge/query.
type QueryRequest struct {
	Query        string `json:"query"`
	TopK         int    `json:"top_k,omitempty"`
	IncludeGraph bool   `json:"include_graph,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	start := time.Now()
	result, err := s.services.Orchestrator.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.logger.Error("Query failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if s.services.Metrics != nil {
		queryType := "vector"
		if result.GraphEnhanced {
			queryType = "graph_enhanced"
		}
		s.services.Metrics.ObserveQuery(queryType, time.Since(start))
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueryStream answers over SSE: one data frame per chunk and a
// terminal [DONE] frame.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := s.services.Orchestrator.StreamQuery(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	start := time.Now()
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for chunk := range stream {
		buf.Reset()
		buf.WriteString("data: ")
		buf.WriteString(chunk)
		buf.WriteString("\n\n")
		if _, err := w.Write(buf.B); err != nil {
			return
		}
		flusher.Flush()
	}
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()

	if s.services.Metrics != nil {
		s.services.Metrics.ObserveQuery("stream", time.Since(start))
	}
}

// IngestRequest is the body of /api/v1/knowledge/ingest.
type IngestRequest struct {
	Content     string   `json:"content"`
	Source      string   `json:"source,omitempty"`
	DocumentID  string   `json:"document_id,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxIngestContent {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("content exceeds %d characters", maxIngestContent))
		return
	}
	for _, t := range req.EntityTypes {
		if !extractor.AllowedEntityType(t) {
			writeError(w, http.StatusBadRequest, "unknown entity type: "+t)
			return
		}
	}

	docID := req.DocumentID
	if docID == "" {
		docID = "doc_" + uuid.New().String()
	}

	result, err := s.services.Builder.UpdateFromText(r.Context(), req.Content, docID, req.Source, req.EntityTypes)
	if err != nil {
		s.logger.Error("Ingest failed", zap.String("document_id", docID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	if err := s.services.Index.AddDocuments(r.Context(), []vector.Document{{
		ID:      docID,
		Content: req.Content,
		Metadata: map[string]interface{}{
			"source": req.Source,
		},
	}}); err != nil {
		s.logger.Error("Vector index write failed", zap.String("document_id", docID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "index write failed")
		return
	}

	// New knowledge invalidates cached answers.
	s.services.Retrieval.InvalidateAll()
	if s.services.Results != nil {
		s.services.Results.Clear(r.Context())
	}
	s.refreshGauges(r)

	s.services.Events.Publish(events.SubjectIngest, "knowledge_ingested", map[string]interface{}{
		"document_id": docID,
		"entities":    result.EntitiesCount,
		"relations":   result.RelationsCount,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := s.services.Orchestrator.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !req.IncludeGraph {
		result.GraphEntities = nil
		result.GraphRelations = nil
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	docs, err := s.services.Store.EntitiesByType(r.Context(), graph.TypeDocument, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "source listing failed")
		return
	}
	sources := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, map[string]interface{}{
			"document_id": doc.ID,
			"name":        doc.Name,
			"created_at":  doc.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"llm_provider":   string(s.services.LLM.Provider()),
		"webhooks":       s.webhookSnapshot(),
	}
	if s.services.Results != nil {
		stats["cache"] = s.services.Results.Stats()
	}
	if count, err := s.services.Index.Count(); err == nil {
		stats["documents_indexed"] = count
	}
	if graphStats, err := s.services.Store.Statistics(r.Context()); err == nil {
		stats["graph"] = graphStats
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := 0
	if s.services.Results != nil {
		cleared = s.services.Results.Clear(r.Context())
	}
	s.services.Retrieval.InvalidateAll()
	s.logger.Info("Cache cleared by admin", zap.Int("entries", cleared))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"entries_cleared": cleared,
	})
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Store.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph statistics failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// refreshGauges updates the store-level gauges after writes.
func (s *Server) refreshGauges(r *http.Request) {
	if s.services.Metrics == nil {
		return
	}
	if count, err := s.services.Index.Count(); err == nil {
		s.services.Metrics.DocumentsIndexed.Set(float64(count))
	}
	if stats, err := s.services.Store.Statistics(r.Context()); err == nil {
		s.services.Metrics.GraphEntities.Set(float64(stats.TotalEntities))
		s.services.Metrics.GraphRelations.Set(float64(stats.TotalRelations))
	}
}
