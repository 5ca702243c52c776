package embedder

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Config selects the external embedding model backing the embedder.
type Config struct {
	Provider  string // "ollama" or "openai"
	Model     string
	BaseURL   string
	APIKeyEnv string // env var holding the API key for openai-compatible endpoints
}

// Embedder wraps an embedding model client and enforces the pipeline's
// batching contract: one external call per batch, one vector per input,
// in input order. The client is injected so tests can swap in a fake.
type Embedder struct {
	client embeddings.EmbedderClient
}

func New(client embeddings.EmbedderClient) *Embedder {
	return &Embedder{client: client}
}

func NewFromConfig(config Config) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}

	switch config.Provider {
	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		client, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		return &Embedder{client: client}, nil

	case "openai":
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		if config.APIKeyEnv != "" {
			key := os.Getenv(config.APIKeyEnv)
			if key == "" {
				return nil, fmt.Errorf("missing API key in env %s", config.APIKeyEnv)
			}
			opts = append(opts, openai.WithToken(key))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		return &Embedder{client: client}, nil
	}

	return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
}

// EmbedOne embeds a single text, typically a user query.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in a single external call. A vector count
// that differs from the input count is an error, never silently dropped:
// the caller relies on vectors[i] belonging to texts[i].
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(vectors))
	}
	return vectors, nil
}
