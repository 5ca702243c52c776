package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/knowledge/pkg/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.LoadConfig(writeConfigFile(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, cfg.LLM.BaseURL, cfg.Embedding.BaseURL)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 768, cfg.Database.VectorDim)
	assert.Equal(t, 2500, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 300, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, 30, cfg.Pipeline.MaxChunks)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	assert.Empty(t, cfg.Validate())
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
llm:
  model: llama3
  max_tokens: 1500
  temperature: 0.2
embedding:
  provider: openai
  model: text-embedding-3-small
  api_key_env: OPENAI_API_KEY
database:
  url: postgres://localhost/knowledge
pipeline:
  chunk_size: 1000
  chunk_overlap: 100
server:
  addr: ":9090"
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 1500, cfg.LLM.MaxTokens)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedding.APIKeyEnv)
	assert.Equal(t, "postgres", cfg.Database.Driver, "driver inferred from the URL")
	assert.Equal(t, 1000, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 100, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("DATABASE_URL", "postgres://db.internal/knowledge")
	t.Setenv("PORT", "3000")

	cfg, err := config.LoadConfig(writeConfigFile(t, `
llm:
  base_url: http://localhost:11434
`))
	require.NoError(t, err)

	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "http://ollama.internal:11434", cfg.Embedding.BaseURL)
	assert.Equal(t, "postgres://db.internal/knowledge", cfg.Database.URL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	valid := func() *config.Config {
		cfg, err := config.LoadConfig(writeConfigFile(t, ""))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{
			name:   "missing llm base url",
			mutate: func(c *config.Config) { c.LLM.BaseURL = "" },
			field:  "llm.base_url",
		},
		{
			name:   "max tokens too large",
			mutate: func(c *config.Config) { c.LLM.MaxTokens = 5000 },
			field:  "llm.max_tokens",
		},
		{
			name:   "temperature out of range",
			mutate: func(c *config.Config) { c.LLM.Temperature = 2.5 },
			field:  "llm.temperature",
		},
		{
			name:   "unknown embedding provider",
			mutate: func(c *config.Config) { c.Embedding.Provider = "cohere" },
			field:  "embedding.provider",
		},
		{
			name:   "postgres driver without url",
			mutate: func(c *config.Config) { c.Database.Driver = "postgres"; c.Database.URL = "" },
			field:  "database.url",
		},
		{
			name:   "unknown database driver",
			mutate: func(c *config.Config) { c.Database.Driver = "sqlite" },
			field:  "database.driver",
		},
		{
			name:   "overlap not smaller than chunk size",
			mutate: func(c *config.Config) { c.Pipeline.ChunkOverlap = c.Pipeline.ChunkSize },
			field:  "pipeline.chunk_overlap",
		},
		{
			name:   "zero top k",
			mutate: func(c *config.Config) { c.Pipeline.TopK = -1 },
			field:  "pipeline.top_k",
		},
		{
			name:   "zero rate limit",
			mutate: func(c *config.Config) { c.Fetcher.RateLimit = -1 },
			field:  "fetcher.rate_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}
