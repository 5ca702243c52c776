package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/chatforge/knowledge/internal/models"
)

// MemoryStore is an in-process store with exact cosine ranking. It backs
// tests and the CLI's database-free mode; ranking matches what pgvector
// produces for the same vectors.
type MemoryStore struct {
	mu         sync.RWMutex
	maxChunks  int
	staleAfter time.Duration
	chatbots   map[string]models.Chatbot
	sources    map[string]models.KnowledgeSource
	chunks     map[string][]models.KnowledgeChunk // keyed by source id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		maxChunks:  DefaultMaxChunks,
		staleAfter: DefaultStaleAfter,
		chatbots:   make(map[string]models.Chatbot),
		sources:    make(map[string]models.KnowledgeSource),
		chunks:     make(map[string][]models.KnowledgeChunk),
	}
}

// SetMaxChunks overrides the per-source chunk cap.
func (s *MemoryStore) SetMaxChunks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxChunks = n
	}
}

// SetStaleAfter overrides the processing staleness threshold.
func (s *MemoryStore) SetStaleAfter(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *MemoryStore) CreateChatbot(ctx context.Context, bot *models.Chatbot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now()
	}
	if _, ok := s.chatbots[bot.ID]; !ok {
		s.chatbots[bot.ID] = *bot
	}
	return nil
}

func (s *MemoryStore) GetChatbot(ctx context.Context, id string) (*models.Chatbot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bot, ok := s.chatbots[id]
	if !ok {
		return nil, ErrChatbotNotFound
	}
	return &bot, nil
}

func (s *MemoryStore) CreateSource(ctx context.Context, src *models.KnowledgeSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(src.Content) > models.MaxContentBytes {
		src.Content = src.Content[:models.MaxContentBytes]
	}
	now := time.Now()
	src.CreatedAt = now
	src.UpdatedAt = now
	s.sources[src.ID] = *src
	return nil
}

func (s *MemoryStore) GetSource(ctx context.Context, id string) (*models.KnowledgeSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	applyStaleness(&src, s.staleAfter, time.Now())
	return &src, nil
}

func (s *MemoryStore) ListSources(ctx context.Context, chatbotID string) ([]models.KnowledgeSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var sources []models.KnowledgeSource
	for _, src := range s.sources {
		if src.ChatbotID != chatbotID {
			continue
		}
		applyStaleness(&src, s.staleAfter, now)
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].CreatedAt.After(sources[j].CreatedAt)
	})
	return sources, nil
}

func (s *MemoryStore) SetSourceStatus(ctx context.Context, id string, status models.SourceStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return ErrSourceNotFound
	}
	src.Status = status
	src.Error = errMsg
	src.UpdatedAt = time.Now()
	s.sources[id] = src
	return nil
}

func (s *MemoryStore) DeleteSource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) ReplaceChunks(ctx context.Context, sourceID, chatbotID string, chunks []string, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, errCountMismatch(len(chunks), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(chunks)
	if n > s.maxChunks {
		n = s.maxChunks
	}

	replacement := make([]models.KnowledgeChunk, 0, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		replacement = append(replacement, models.KnowledgeChunk{
			ID:         chunkID(sourceID, i),
			SourceID:   sourceID,
			ChatbotID:  chatbotID,
			Content:    chunks[i],
			Embedding:  vectors[i],
			ChunkIndex: i,
			CreatedAt:  now,
		})
	}
	s.chunks[sourceID] = replacement
	return n, nil
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, sourceID)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, chatbotID string, vector []float32, topK int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		chunk    models.KnowledgeChunk
		distance float64
	}
	var candidates []scored
	for _, chunks := range s.chunks {
		for _, chunk := range chunks {
			if chunk.ChatbotID != chatbotID {
				continue
			}
			candidates = append(candidates, scored{chunk: chunk, distance: cosineDistance(vector, chunk.Embedding)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	if topK < len(candidates) {
		candidates = candidates[:topK]
	}

	contents := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.chunk.ChatbotID != chatbotID {
			return nil, ErrTenantScope
		}
		contents = append(contents, c.chunk.Content)
	}
	return contents, nil
}

// ChunkCount reports how many chunks a source currently has. Used by
// tests to verify replace semantics.
func (s *MemoryStore) ChunkCount(sourceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[sourceID])
}

// Chunks returns a copy of a source's chunk rows in ordinal order.
func (s *MemoryStore) Chunks(sourceID string) []models.KnowledgeChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.KnowledgeChunk, len(s.chunks[sourceID]))
	copy(out, s.chunks[sourceID])
	return out
}

func (s *MemoryStore) Close() {}

func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
