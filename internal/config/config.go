// Package config loads service configuration from an optional YAML file
// with environment-variable overrides. Credential precedence is explicit
// value > config file > process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/graphrag-kernel/internal/llm"
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Graph  GraphConfig  `yaml:"graph"`
	Vector VectorConfig `yaml:"vector"`
	Query  QueryConfig  `yaml:"query"`
	LLM    llm.Config   `yaml:"llm"`
	Redis  RedisConfig  `yaml:"redis"`
	NATS   NATSConfig   `yaml:"nats"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	APIKey       string   `yaml:"api_key"`
	APIKeyHeader string   `yaml:"api_key_header"`
	MetricsPort  int      `yaml:"metrics_port"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// GraphConfig covers the graph store.
type GraphConfig struct {
	DBPath string `yaml:"db_path"`
}

// VectorConfig covers the vector index.
type VectorConfig struct {
	IndexPath string `yaml:"index_path"`
	InMemory  bool   `yaml:"in_memory"`
	Dimension int    `yaml:"dimension"`
}

// QueryConfig bounds retrieval and graph enhancement.
type QueryConfig struct {
	TopKDefault       int           `yaml:"top_k_default"`
	GraphMaxEntities  int           `yaml:"graph_max_entities"`
	GraphMaxNeighbors int           `yaml:"graph_max_neighbors"`
	GraphCacheTTL     time.Duration `yaml:"graph_cache_ttl"`
}

// RedisConfig covers the optional L2 cache tier. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig covers the optional event bus. Empty URL disables it.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			APIKey:       "test-api-key",
			APIKeyHeader: "X-API-Key",
			MetricsPort:  8001,
			CORSOrigins:  []string{"*"},
		},
		Graph: GraphConfig{
			DBPath: "./data/graph.db",
		},
		Vector: VectorConfig{
			IndexPath: "./data/vector.bleve",
			Dimension: 768,
		},
		Query: QueryConfig{
			TopKDefault:       3,
			GraphMaxEntities:  5,
			GraphMaxNeighbors: 3,
			GraphCacheTTL:     time.Hour,
		},
		LLM: llm.Config{
			Provider:    llm.ProviderGemini,
			MaxTokens:   2000,
			Temperature: 0.7,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.LLM.FillFromEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Server.Host, "HOST")
	envInt(&c.Server.Port, "PORT")
	envString(&c.Server.APIKey, "API_KEY")
	envString(&c.Server.APIKeyHeader, "API_KEY_HEADER")
	envInt(&c.Server.MetricsPort, "METRICS_PORT")
	envString(&c.Graph.DBPath, "GRAPH_DB_PATH")
	envString(&c.Vector.IndexPath, "VECTOR_INDEX_PATH")
	envInt(&c.Vector.Dimension, "VECTOR_DIMENSION")
	envInt(&c.Query.TopKDefault, "TOP_K_RESULTS")
	envInt(&c.Query.GraphMaxEntities, "GRAPH_QUERY_MAX_ENTITIES")
	envInt(&c.Query.GraphMaxNeighbors, "GRAPH_QUERY_MAX_NEIGHBORS")
	envSeconds(&c.Query.GraphCacheTTL, "GRAPH_CACHE_TTL")
	envString(&c.Redis.Addr, "REDIS_ADDR")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	envString(&c.NATS.URL, "NATS_URL")

	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = llm.Provider(provider)
	}
	envInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS")
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = f
		}
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

// Addr returns the HTTP listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddr returns the metrics listen address.
func (c ServerConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}
