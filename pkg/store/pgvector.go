package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PGStoreConfig struct {
	ConnString string
	VectorDim  int
	MaxChunks  int
	StaleAfter time.Duration
}

// PGStore persists sources and chunk embeddings in PostgreSQL with the
// pgvector extension. Similarity search uses the cosine distance
// operator over an ivfflat index.
type PGStore struct {
	config PGStoreConfig
	pool   *pgxpool.Pool
}

func NewPGStore(ctx context.Context, config PGStoreConfig) (*PGStore, error) {
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.MaxChunks == 0 {
		config.MaxChunks = DefaultMaxChunks
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = DefaultStaleAfter
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PGStore{config: config, pool: pool}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS chatbots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_sources (
			id TEXT PRIMARY KEY,
			chatbot_id TEXT NOT NULL REFERENCES chatbots(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES knowledge_sources(id) ON DELETE CASCADE,
			chatbot_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			chunk_index INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.config.VectorDim),
		`CREATE INDEX IF NOT EXISTS knowledge_chunks_source_idx ON knowledge_chunks (source_id)`,
		`CREATE INDEX IF NOT EXISTS knowledge_chunks_chatbot_idx ON knowledge_chunks (chatbot_id)`,
		`CREATE INDEX IF NOT EXISTS knowledge_chunks_embedding_idx
			ON knowledge_chunks
			USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = 100)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// ReplaceChunks swaps the full chunk set for a source inside one
// transaction: delete everything for the source, then batch insert the
// new set. Queries never observe a partial or empty in-between state.
func (s *PGStore) ReplaceChunks(ctx context.Context, sourceID, chatbotID string, chunks []string, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, errCountMismatch(len(chunks), len(vectors))
	}
	if len(chunks) > s.config.MaxChunks {
		chunks = chunks[:s.config.MaxChunks]
		vectors = vectors[:s.config.MaxChunks]
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_chunks WHERE source_id = $1`, sourceID); err != nil {
		return 0, fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		batch.Queue(
			`INSERT INTO knowledge_chunks (id, source_id, chatbot_id, content, embedding, chunk_index)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			chunkID(sourceID, i),
			sourceID,
			chatbotID,
			sanitizeUTF8(chunk),
			pgvector.NewVector(vectors[i]),
			i,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit chunk replace: %w", err)
	}
	return len(chunks), nil
}

// DeleteChunks removes all chunks for a source. Deleting a source that
// has no chunks is not an error.
func (s *PGStore) DeleteChunks(ctx context.Context, sourceID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM knowledge_chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Search returns up to topK chunk texts for the chatbot ranked by
// ascending cosine distance to the query vector.
func (s *PGStore) Search(ctx context.Context, chatbotID string, vector []float32, topK int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT content
		 FROM knowledge_chunks
		 WHERE chatbot_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		chatbotID, pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}

func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func chunkID(sourceID string, index int) string {
	return fmt.Sprintf("chunk_%s_%d", sourceID, index)
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
