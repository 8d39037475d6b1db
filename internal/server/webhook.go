package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/events"
)

// knownWebhookEvents is the accepted event vocabulary.
var knownWebhookEvents = map[string]bool{
	"document_updated":       true,
	"knowledge_base_changed": true,
	"graph_updated":          true,
	"cache_cleared":          true,
}

// WebhookRequest is the body of /api/v1/webhook/events.
type WebhookRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Signature string                 `json:"signature,omitempty"`
}

// handleWebhook counts the event, applies its side effect, and forwards it
// to the bus. cache_cleared is the only event with a local effect; the rest
// are recorded for observers.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !knownWebhookEvents[req.EventType] {
		writeError(w, http.StatusBadRequest, "unknown event type: "+req.EventType)
		return
	}

	s.webhookMu.Lock()
	s.webhookStats[req.EventType]++
	count := s.webhookStats[req.EventType]
	s.webhookLast = time.Now().UTC()
	s.webhookMu.Unlock()

	if req.EventType == "cache_cleared" {
		cleared := 0
		if s.services.Results != nil {
			cleared = s.services.Results.Clear(r.Context())
		}
		s.services.Retrieval.InvalidateAll()
		s.logger.Info("Cache cleared by webhook", zap.Int("entries", cleared))
	}

	s.services.Events.Publish(events.SubjectWebhook, req.EventType, req.Payload)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "received",
		"event_type":  req.EventType,
		"occurrences": count,
		"received_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// webhookSnapshot copies the counters for reporting.
func (s *Server) webhookSnapshot() map[string]interface{} {
	s.webhookMu.Lock()
	defer s.webhookMu.Unlock()
	byType := make(map[string]int, len(s.webhookStats))
	total := 0
	for k, v := range s.webhookStats {
		byType[k] = v
		total += v
	}
	snapshot := map[string]interface{}{
		"total":   total,
		"by_type": byType,
	}
	if !s.webhookLast.IsZero() {
		snapshot["last_event_at"] = s.webhookLast.Format(time.RFC3339)
	}
	return snapshot
}
