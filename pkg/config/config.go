package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	SystemTemplate string  `yaml:"system_template"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"` // "postgres" or "memory"
	URL       string `yaml:"url"`
	VectorDim int    `yaml:"vector_dim"`
}

type PipelineConfig struct {
	ChunkSize         int `yaml:"chunk_size"`
	ChunkOverlap      int `yaml:"chunk_overlap"`
	MaxChunks         int `yaml:"max_chunks"`
	TopK              int `yaml:"top_k"`
	RetryAttempts     int `yaml:"retry_attempts"`
	RetryDelayMS      int `yaml:"retry_delay_ms"`
	StaleAfterMinutes int `yaml:"stale_after_minutes"`
}

type FetcherConfig struct {
	RateLimit   float64 `yaml:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Server    ServerConfig    `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/chatforge/config.yaml"),
			"/etc/chatforge/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)
	return &config, nil
}

func getDefaultConfig() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}

	if config.Database.Driver == "" {
		if config.Database.URL != "" {
			config.Database.Driver = "postgres"
		} else {
			config.Database.Driver = "memory"
		}
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Pipeline.ChunkSize == 0 {
		config.Pipeline.ChunkSize = 2500
	}
	if config.Pipeline.ChunkOverlap == 0 {
		config.Pipeline.ChunkOverlap = 300
	}
	if config.Pipeline.MaxChunks == 0 {
		config.Pipeline.MaxChunks = 30
	}
	if config.Pipeline.TopK == 0 {
		config.Pipeline.TopK = 5
	}
	if config.Pipeline.RetryAttempts == 0 {
		config.Pipeline.RetryAttempts = 3
	}
	if config.Pipeline.RetryDelayMS == 0 {
		config.Pipeline.RetryDelayMS = 500
	}
	if config.Pipeline.StaleAfterMinutes == 0 {
		config.Pipeline.StaleAfterMinutes = 10
	}

	if config.Fetcher.RateLimit == 0 {
		config.Fetcher.RateLimit = 2.0
	}
	if config.Fetcher.TimeoutSecs == 0 {
		config.Fetcher.TimeoutSecs = 30
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedding.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
