package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame is the WebSocket wire envelope. A response is a start frame, zero
// or more chunk frames with increasing indexes, and a done frame; failures
// surface as an error frame.
type Frame struct {
	Type  string `json:"type"`
	Chunk string `json:"chunk,omitempty"`
	Index int    `json:"index"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// wsInbound is a client message on either socket.
type wsInbound struct {
	Query   string `json:"query,omitempty"`
	Message string `json:"message,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

// handleWSQuery streams graph-backed answers: the start frame carries no
// payload, each answer chunk arrives in order, and done closes the cycle.
func (s *Server) handleWSQuery(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, func(conn *websocket.Conn, in wsInbound) {
		query := in.Query
		if query == "" {
			query = in.Message
		}
		if query == "" {
			conn.WriteJSON(Frame{Type: "error", Error: "query is required"})
			return
		}
		s.streamToSocket(r, conn, query)
	})
}

// handleWSChat is the conversational variant of handleWSQuery; it shares
// the frame protocol.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, func(conn *websocket.Conn, in wsInbound) {
		message := in.Message
		if message == "" {
			message = in.Query
		}
		if message == "" {
			conn.WriteJSON(Frame{Type: "error", Error: "message is required"})
			return
		}
		s.streamToSocket(r, conn, message)
	})
}

// serveWS upgrades the connection and dispatches inbound JSON messages to
// handle until the client goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, handle func(*websocket.Conn, wsInbound)) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.services.Metrics != nil {
		s.services.Metrics.WebSocketConnections.Inc()
		defer s.services.Metrics.WebSocketConnections.Dec()
	}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			return
		}
		handle(conn, in)
	}
}

// streamToSocket runs one streaming answer cycle over the frame protocol.
func (s *Server) streamToSocket(r *http.Request, conn *websocket.Conn, query string) {
	stream, err := s.services.Orchestrator.StreamQuery(r.Context(), query)
	if err != nil {
		conn.WriteJSON(Frame{Type: "error", Error: "stream failed"})
		return
	}
	if err := conn.WriteJSON(Frame{Type: "start"}); err != nil {
		return
	}
	index := 0
	for chunk := range stream {
		if err := conn.WriteJSON(Frame{Type: "chunk", Chunk: chunk, Index: index}); err != nil {
			return
		}
		index++
	}
	conn.WriteJSON(Frame{Type: "done", Index: index, Done: true})
}
