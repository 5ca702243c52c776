package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chatforge/knowledge/internal/models"
	"github.com/chatforge/knowledge/internal/types"
	"github.com/chatforge/knowledge/pkg/store"
)

type Config struct {
	TopK          int
	RetryAttempts int
	RetryDelay    time.Duration
}

// Pipeline orchestrates indexing (chunk, embed, persist) and retrieval
// (embed query, similarity search) for a chatbot's knowledge base. All
// collaborators are injected; the pipeline holds no hidden globals.
type Pipeline struct {
	chunker  types.Chunker
	embedder types.Embedder
	vectors  types.VectorStore
	sources  types.SourceStore
	config   Config
}

func New(chunker types.Chunker, embedder types.Embedder, vectors types.VectorStore, sources types.SourceStore, config Config) *Pipeline {
	if config.TopK == 0 {
		config.TopK = 5
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	return &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		sources:  sources,
		config:   config,
	}
}

// Index processes a source's content end to end: chunk, embed as one
// batch, replace the stored chunk set, then mark the source ready. On
// any failure the source ends up failed with a human-readable message,
// never stuck in processing, and no partial chunk set is left visible.
func (p *Pipeline) Index(ctx context.Context, chatbotID, sourceID, content string) error {
	if _, err := p.sources.GetChatbot(ctx, chatbotID); err != nil {
		if errors.Is(err, store.ErrChatbotNotFound) {
			return ErrUnknownChatbot
		}
		return fmt.Errorf("failed to resolve chatbot: %w", err)
	}

	if err := p.sources.SetSourceStatus(ctx, sourceID, models.StatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark source processing: %w", err)
	}

	chunks := p.chunker.Split(content)
	if len(chunks) == 0 {
		p.fail(ctx, sourceID, ErrEmptyContent.Error())
		return ErrEmptyContent
	}

	var vectors [][]float32
	err := withRetry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		var embedErr error
		vectors, embedErr = p.embedder.EmbedBatch(ctx, chunks)
		return embedErr
	})
	if err != nil {
		embErr := &EmbeddingError{Err: err}
		p.fail(ctx, sourceID, embErr.Error())
		return embErr
	}

	var persisted int
	err = withRetry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		var replaceErr error
		persisted, replaceErr = p.vectors.ReplaceChunks(ctx, sourceID, chatbotID, chunks, vectors)
		return replaceErr
	})
	if err != nil {
		pErr := &PersistenceError{Op: "chunk replace", Err: err}
		p.fail(ctx, sourceID, pErr.Error())
		return pErr
	}

	if persisted < len(chunks) {
		log.Printf("source %s truncated to %d of %d chunks", sourceID, persisted, len(chunks))
	}

	if err := p.sources.SetSourceStatus(ctx, sourceID, models.StatusReady, ""); err != nil {
		return fmt.Errorf("failed to mark source ready: %w", err)
	}
	return nil
}

// Reindex re-runs Index from the source's stored content. This is the
// explicit failed -> processing retry path, and also re-processes an
// already ready source.
func (p *Pipeline) Reindex(ctx context.Context, sourceID string) error {
	src, err := p.sources.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if !models.CanTransition(src.Status, models.StatusProcessing) {
		return fmt.Errorf("source %s is already processing", sourceID)
	}
	return p.Index(ctx, src.ChatbotID, src.ID, src.Content)
}

// Query embeds the user's message and returns the topK closest chunk
// texts scoped to the chatbot, best match first. A chatbot with no
// indexed knowledge yields an empty slice, not an error.
func (p *Pipeline) Query(ctx context.Context, chatbotID, text string, topK int) ([]string, error) {
	if _, err := p.sources.GetChatbot(ctx, chatbotID); err != nil {
		if errors.Is(err, store.ErrChatbotNotFound) {
			return nil, ErrUnknownChatbot
		}
		return nil, fmt.Errorf("failed to resolve chatbot: %w", err)
	}
	if topK <= 0 {
		topK = p.config.TopK
	}

	vector, err := p.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	var contents []string
	err = withRetry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		var searchErr error
		contents, searchErr = p.vectors.Search(ctx, chatbotID, vector, topK)
		return searchErr
	})
	if err != nil {
		return nil, &PersistenceError{Op: "similarity search", Err: err}
	}
	return contents, nil
}

// Delete removes a source and every chunk it owns.
func (p *Pipeline) Delete(ctx context.Context, sourceID string) error {
	if err := p.vectors.DeleteChunks(ctx, sourceID); err != nil {
		return &PersistenceError{Op: "chunk delete", Err: err}
	}
	if err := p.sources.DeleteSource(ctx, sourceID); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, sourceID, msg string) {
	if err := p.sources.SetSourceStatus(ctx, sourceID, models.StatusFailed, msg); err != nil {
		log.Printf("failed to record failure for source %s: %v", sourceID, err)
	}
}
