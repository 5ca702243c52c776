package types

import (
	"context"

	"github.com/chatforge/knowledge/internal/models"
)

// Chunker splits raw document text into retrieval-sized pieces.
type Chunker interface {
	Split(text string) []string
}

// Embedder converts text into fixed-length vectors via an external model.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists chunk embeddings and supports tenant-scoped
// similarity search. ReplaceChunks swaps a source's entire chunk set
// atomically and returns how many chunks were persisted after capping.
type VectorStore interface {
	ReplaceChunks(ctx context.Context, sourceID, chatbotID string, chunks []string, vectors [][]float32) (int, error)
	DeleteChunks(ctx context.Context, sourceID string) error
	Search(ctx context.Context, chatbotID string, vector []float32, topK int) ([]string, error)
}

// SourceStore persists knowledge source metadata and chatbot records.
type SourceStore interface {
	CreateChatbot(ctx context.Context, bot *models.Chatbot) error
	GetChatbot(ctx context.Context, id string) (*models.Chatbot, error)

	CreateSource(ctx context.Context, src *models.KnowledgeSource) error
	GetSource(ctx context.Context, id string) (*models.KnowledgeSource, error)
	ListSources(ctx context.Context, chatbotID string) ([]models.KnowledgeSource, error)
	SetSourceStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error
	DeleteSource(ctx context.Context, id string) error
}
