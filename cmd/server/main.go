// GraphRAG service main entry point
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/builder"
	"github.com/graphrag-kernel/internal/cache"
	"github.com/graphrag-kernel/internal/config"
	"github.com/graphrag-kernel/internal/events"
	"github.com/graphrag-kernel/internal/extractor"
	"github.com/graphrag-kernel/internal/graph"
	"github.com/graphrag-kernel/internal/llm"
	"github.com/graphrag-kernel/internal/metrics"
	"github.com/graphrag-kernel/internal/orchestrator"
	"github.com/graphrag-kernel/internal/rag"
	"github.com/graphrag-kernel/internal/server"
	"github.com/graphrag-kernel/internal/vector"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting GraphRAG service")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	store, err := graph.NewSQLiteStore(cfg.Graph.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open graph store", zap.Error(err))
	}

	index, err := vector.NewBleveIndex(vector.Config{
		IndexPath: cfg.Vector.IndexPath,
		InMemory:  cfg.Vector.InMemory,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open vector index", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("Redis cache tier enabled", zap.String("addr", cfg.Redis.Addr))
	}

	results, err := cache.New(64<<20, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to create result cache", zap.Error(err))
	}

	bus, err := events.Connect(cfg.NATS.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect event bus", zap.Error(err))
	}

	m := metrics.New()

	llmSvc := llm.NewService(cfg.LLM, logger)
	ex := extractor.NewService(llmSvc, logger)
	build := builder.NewService(store, ex, logger)
	retrieval := rag.NewService(index, llmSvc, logger)
	orch := orchestrator.New(retrieval, store, results, orchestrator.Options{
		MaxEntities:   cfg.Query.GraphMaxEntities,
		MaxNeighbors:  cfg.Query.GraphMaxNeighbors,
		CacheTTL:      cfg.Query.GraphCacheTTL,
		TopKDefault:   cfg.Query.TopKDefault,
		CacheObserver: m.ObserveCacheLookup,
	}, logger)
	srv := server.New(cfg.Server, server.Services{
		Orchestrator: orch,
		Builder:      build,
		Retrieval:    retrieval,
		Store:        store,
		Index:        index,
		Results:      results,
		LLM:          llmSvc,
		Events:       bus,
		Metrics:      m,
	}, logger)
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr(), m, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Error("Metrics shutdown failed", zap.Error(err))
	}
	bus.Close()
	if err := results.Close(); err != nil {
		logger.Error("Cache close failed", zap.Error(err))
	}
	if err := index.Close(); err != nil {
		logger.Error("Vector index close failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		if err := store.Close(); err != nil {
			logger.Error("Graph store close failed", zap.Error(err))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logger.Warn("Graph store close timed out")
	}

	logger.Info("Shutdown complete")
}
