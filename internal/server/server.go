// Package server provides the HTTP and WebSocket surface: query and
// streaming endpoints, knowledge ingestion, webhooks, and the admin API.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/builder"
	"github.com/graphrag-kernel/internal/cache"
	"github.com/graphrag-kernel/internal/config"
	"github.com/graphrag-kernel/internal/events"
	"github.com/graphrag-kernel/internal/graph"
	"github.com/graphrag-kernel/internal/llm"
	"github.com/graphrag-kernel/internal/metrics"
	"github.com/graphrag-kernel/internal/orchestrator"
	"github.com/graphrag-kernel/internal/rag"
	"github.com/graphrag-kernel/internal/vector"
)

// Services bundles everything the handlers need.
type Services struct {
	Orchestrator *orchestrator.Orchestrator
	Builder      *builder.Service
	Retrieval    *rag.Service
	Store        graph.Store
	Index        vector.Index
	Results      *cache.TTLCache
	LLM          *llm.Service
	Events       *events.Publisher
	Metrics      *metrics.Metrics
}

// Server hosts the API.
type Server struct {
	cfg      config.ServerConfig
	services Services
	logger   *zap.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
	started  time.Time

	webhookMu    sync.Mutex
	webhookStats map[string]int
	webhookLast  time.Time
}

// New builds the server around its services.
func New(cfg config.ServerConfig, services Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		services: services,
		logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started:      time.Now(),
		webhookStats: make(map[string]int),
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler assembles the full route tree with CORS and metrics wrapping.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	protect := func(h http.HandlerFunc) http.Handler {
		return s.apiKeyMiddleware(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return s.adminMiddleware(h)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/query", protect(s.handleQuery)).Methods("POST")
	api.Handle("/query/stream", protect(s.handleQueryStream)).Methods("GET")
	api.Handle("/knowledge/ingest", protect(s.handleIngest)).Methods("POST")
	api.Handle("/knowledge/query", protect(s.handleKnowledgeQuery)).Methods("POST")
	api.Handle("/knowledge/sources", protect(s.handleSources)).Methods("GET")
	api.Handle("/webhook/events", protect(s.handleWebhook)).Methods("POST")

	api.Handle("/admin/stats", admin(s.handleAdminStats)).Methods("GET")
	api.Handle("/admin/cache/clear", admin(s.handleCacheClear)).Methods("POST")
	api.Handle("/admin/graph/stats", admin(s.handleGraphStats)).Methods("GET")

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Handle("/chat", protect(s.handleWSChat))
	ws.Handle("/query", protect(s.handleWSQuery))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", s.cfg.APIKeyHeader}),
	)

	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))
	return recovery(cors(s.metricsMiddleware(r)))
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP listener starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
