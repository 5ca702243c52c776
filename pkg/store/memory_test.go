package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatforge/knowledge/internal/models"
	"github.com/chatforge/knowledge/pkg/store"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	err := s.CreateChatbot(context.Background(), &models.Chatbot{ID: "bot-a", Name: "A"})
	require.NoError(t, err)
	err = s.CreateChatbot(context.Background(), &models.Chatbot{ID: "bot-b", Name: "B"})
	require.NoError(t, err)
	return s
}

func createSource(t *testing.T, s *store.MemoryStore, id, chatbotID string) {
	t.Helper()
	err := s.CreateSource(context.Background(), &models.KnowledgeSource{
		ID:        id,
		ChatbotID: chatbotID,
		Type:      models.SourceTypeFile,
		Name:      id + ".txt",
		Status:    models.StatusPending,
	})
	require.NoError(t, err)
}

func TestReplaceChunks_OrdinalsAndCap(t *testing.T) {
	s := newTestStore(t)
	s.SetMaxChunks(3)
	createSource(t, s, "src-1", "bot-a")

	chunks := []string{"one", "two", "three", "four", "five"}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}, {0.5, 0.5}, {0.1, 0.9}}

	persisted, err := s.ReplaceChunks(context.Background(), "src-1", "bot-a", chunks, vectors)
	require.NoError(t, err)
	assert.Equal(t, 3, persisted)

	rows := s.Chunks("src-1")
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i, row.ChunkIndex)
		assert.Equal(t, chunks[i], row.Content)
		assert.Equal(t, "bot-a", row.ChatbotID)
	}
}

func TestReplaceChunks_FullySwapsPriorSet(t *testing.T) {
	s := newTestStore(t)
	createSource(t, s, "src-1", "bot-a")
	ctx := context.Background()

	_, err := s.ReplaceChunks(ctx, "src-1", "bot-a",
		[]string{"old-a", "old-b", "old-c"},
		[][]float32{{1, 0}, {0, 1}, {1, 1}})
	require.NoError(t, err)

	_, err = s.ReplaceChunks(ctx, "src-1", "bot-a",
		[]string{"new-a", "new-b"},
		[][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	rows := s.Chunks("src-1")
	require.Len(t, rows, 2)
	assert.Equal(t, "new-a", rows[0].Content)
	assert.Equal(t, "new-b", rows[1].Content)
}

func TestReplaceChunks_CountMismatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReplaceChunks(context.Background(), "src-1", "bot-a",
		[]string{"a", "b"}, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count mismatch")
}

func TestDeleteChunks_Idempotent(t *testing.T) {
	s := newTestStore(t)
	createSource(t, s, "src-1", "bot-a")
	ctx := context.Background()

	_, err := s.ReplaceChunks(ctx, "src-1", "bot-a", []string{"a"}, [][]float32{{1, 0}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteChunks(ctx, "src-1"))
	assert.Zero(t, s.ChunkCount("src-1"))

	// Deleting again is not an error.
	require.NoError(t, s.DeleteChunks(ctx, "src-1"))
}

func TestSearch_RanksByCosineDistance(t *testing.T) {
	s := newTestStore(t)
	createSource(t, s, "src-1", "bot-a")
	ctx := context.Background()

	_, err := s.ReplaceChunks(ctx, "src-1", "bot-a",
		[]string{"exact", "close", "far"},
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}})
	require.NoError(t, err)

	results, err := s.Search(ctx, "bot-a", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "close", "far"}, results)
}

func TestSearch_TenantIsolation(t *testing.T) {
	s := newTestStore(t)
	createSource(t, s, "src-a", "bot-a")
	createSource(t, s, "src-b", "bot-b")
	ctx := context.Background()

	// bot-b holds the exact match; bot-a must still never see it.
	_, err := s.ReplaceChunks(ctx, "src-a", "bot-a", []string{"mine"}, [][]float32{{0, 1}})
	require.NoError(t, err)
	_, err = s.ReplaceChunks(ctx, "src-b", "bot-b", []string{"theirs"}, [][]float32{{1, 0}})
	require.NoError(t, err)

	results, err := s.Search(ctx, "bot-a", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, results)
}

func TestSearch_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Search(context.Background(), "bot-a", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_FewerThanTopK(t *testing.T) {
	s := newTestStore(t)
	createSource(t, s, "src-1", "bot-a")
	ctx := context.Background()

	_, err := s.ReplaceChunks(ctx, "src-1", "bot-a", []string{"only"}, [][]float32{{1, 0}})
	require.NoError(t, err)

	results, err := s.Search(ctx, "bot-a", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSourceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createSource(t, s, "src-1", "bot-a")

	src, err := s.GetSource(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, src.Status)

	require.NoError(t, s.SetSourceStatus(ctx, "src-1", models.StatusProcessing, ""))
	require.NoError(t, s.SetSourceStatus(ctx, "src-1", models.StatusReady, ""))

	src, err = s.GetSource(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, src.Status)

	require.NoError(t, s.DeleteSource(ctx, "src-1"))
	_, err = s.GetSource(ctx, "src-1")
	assert.ErrorIs(t, err, store.ErrSourceNotFound)
}

func TestStaleProcessingReportedAsFailed(t *testing.T) {
	s := newTestStore(t)
	s.SetStaleAfter(time.Millisecond)
	ctx := context.Background()
	createSource(t, s, "src-1", "bot-a")

	require.NoError(t, s.SetSourceStatus(ctx, "src-1", models.StatusProcessing, ""))
	time.Sleep(5 * time.Millisecond)

	src, err := s.GetSource(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, src.Status)
	assert.Contains(t, src.Error, "timed out")

	list, err := s.ListSources(ctx, "bot-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusFailed, list[0].Status)
}

func TestSetSourceStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SetSourceStatus(context.Background(), "missing", models.StatusReady, "")
	assert.ErrorIs(t, err, store.ErrSourceNotFound)
}
