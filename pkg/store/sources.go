package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatforge/knowledge/internal/models"
)

func (s *PGStore) CreateChatbot(ctx context.Context, bot *models.Chatbot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chatbots (id, name, system_prompt) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		bot.ID, bot.Name, bot.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chatbot: %w", err)
	}
	return nil
}

func (s *PGStore) GetChatbot(ctx context.Context, id string) (*models.Chatbot, error) {
	var bot models.Chatbot
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, system_prompt, created_at FROM chatbots WHERE id = $1`,
		id,
	).Scan(&bot.ID, &bot.Name, &bot.SystemPrompt, &bot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChatbotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}
	return &bot, nil
}

func (s *PGStore) CreateSource(ctx context.Context, src *models.KnowledgeSource) error {
	content := src.Content
	if len(content) > models.MaxContentBytes {
		content = content[:models.MaxContentBytes]
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_sources (id, chatbot_id, type, name, url, content, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		src.ID, src.ChatbotID, src.Type, src.Name, src.URL, sanitizeUTF8(content), src.Status,
	).Scan(&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	src.Content = content
	return nil
}

func (s *PGStore) GetSource(ctx context.Context, id string) (*models.KnowledgeSource, error) {
	var src models.KnowledgeSource
	err := s.pool.QueryRow(ctx,
		`SELECT id, chatbot_id, type, name, url, content, status, error, created_at, updated_at
		 FROM knowledge_sources WHERE id = $1`,
		id,
	).Scan(&src.ID, &src.ChatbotID, &src.Type, &src.Name, &src.URL,
		&src.Content, &src.Status, &src.Error, &src.CreatedAt, &src.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	applyStaleness(&src, s.config.StaleAfter, time.Now())
	return &src, nil
}

func (s *PGStore) ListSources(ctx context.Context, chatbotID string) ([]models.KnowledgeSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chatbot_id, type, name, url, status, error, created_at, updated_at
		 FROM knowledge_sources
		 WHERE chatbot_id = $1
		 ORDER BY created_at DESC`,
		chatbotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var sources []models.KnowledgeSource
	for rows.Next() {
		var src models.KnowledgeSource
		if err := rows.Scan(&src.ID, &src.ChatbotID, &src.Type, &src.Name, &src.URL,
			&src.Status, &src.Error, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		applyStaleness(&src, s.config.StaleAfter, now)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *PGStore) SetSourceStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE knowledge_sources SET status = $2, error = $3, updated_at = NOW() WHERE id = $1`,
		id, status, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// DeleteSource removes the source row; chunks go with it via the
// ON DELETE CASCADE on knowledge_chunks.
func (s *PGStore) DeleteSource(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM knowledge_sources WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}
