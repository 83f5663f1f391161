package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"SUBGRAPH_URL", "SUBGRAPH_WS_URL", "SUBGRAPH_PAGE_SIZE", "SUBGRAPH_TIMEOUT",
	"POSTGRES_DSN", "CLICKHOUSE_DSN", "DATA_DIR", "WORKERS",
	"HTTP_ADDR", "METRICS_ADDR", "LOG_LEVEL",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.SubgraphURL)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := "SUBGRAPH_URL=https://example.test/subgraphs/aave\nWORKERS=8\nLOG_LEVEL=debug\nSUBGRAPH_TIMEOUT=5s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/subgraphs/aave", cfg.SubgraphURL)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKERS", "many")
	t.Setenv("SUBGRAPH_TIMEOUT", "soon")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
}

func TestLoad_MalformedFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KEY=\"unterminated\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
