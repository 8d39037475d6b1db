// Package metrics exposes Prometheus instrumentation on a dedicated
// listener so the scrape surface stays off the authenticated API port.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics bundles every collector the service emits.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	QueriesTotal *prometheus.CounterVec
	QueryLatency *prometheus.HistogramVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	WebSocketConnections prometheus.Gauge
	DocumentsIndexed     prometheus.Gauge
	GraphEntities        prometheus.Gauge
	GraphRelations       prometheus.Gauge
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrag_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphrag_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrag_queries_total",
			Help: "Queries by type (vector, graph_enhanced, stream).",
		}, []string{"type"}),
		QueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphrag_query_duration_seconds",
			Help:    "Query latency by type.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphrag_cache_hits_total",
			Help: "Result cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphrag_cache_misses_total",
			Help: "Result cache misses.",
		}),
		WebSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphrag_websocket_connections",
			Help: "Open WebSocket connections.",
		}),
		DocumentsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphrag_documents_indexed",
			Help: "Documents held by the vector index.",
		}),
		GraphEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphrag_graph_entities",
			Help: "Entities held by the graph store.",
		}),
		GraphRelations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphrag_graph_relations",
			Help: "Relations held by the graph store.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestLatency,
		m.QueriesTotal,
		m.QueryLatency,
		m.CacheHits,
		m.CacheMisses,
		m.WebSocketConnections,
		m.DocumentsIndexed,
		m.GraphEntities,
		m.GraphRelations,
	)
	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveCacheLookup records one result-cache lookup outcome.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// ObserveQuery records one finished query.
func (m *Metrics) ObserveQuery(queryType string, elapsed time.Duration) {
	m.QueriesTotal.WithLabelValues(queryType).Inc()
	m.QueryLatency.WithLabelValues(queryType).Observe(elapsed.Seconds())
}

// Server wraps the scrape listener.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the scrape listener on addr.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("metrics"),
	}
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("Metrics listener starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
