package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphrag-kernel/internal/llm"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "0.0.0.0:8001", cfg.Server.MetricsAddr())
	assert.Equal(t, "test-api-key", cfg.Server.APIKey)
	assert.Equal(t, "X-API-Key", cfg.Server.APIKeyHeader)
	assert.Equal(t, llm.ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, time.Hour, cfg.Query.GraphCacheTTL)
	assert.Empty(t, cfg.Redis.Addr, "redis tier defaults to disabled")
	assert.Empty(t, cfg.NATS.URL, "event bus defaults to disabled")
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
server:
  port: 9090
  api_key: from-file
query:
  top_k_default: 7
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	t.Setenv("API_KEY", "from-env")
	t.Setenv("TOP_K_RESULTS", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.APIKey, "environment overrides file")
	assert.Equal(t, 7, cfg.Query.TopKDefault)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset values keep defaults")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err, "explicit config path must exist")
}

func TestEnvOnlyLoad(t *testing.T) {
	t.Setenv("GRAPH_CACHE_TTL", "120")
	t.Setenv("LLM_PROVIDER", "openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Query.GraphCacheTTL)
	assert.Equal(t, llm.ProviderOpenAI, cfg.LLM.Provider)
}
