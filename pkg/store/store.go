package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/chatforge/knowledge/internal/models"
)

const (
	// DefaultMaxChunks bounds how many chunks one source may persist.
	// Pathologically large documents are truncated, not rejected.
	DefaultMaxChunks = 30

	// DefaultStaleAfter is how long a source may sit in processing
	// before status reads report it as failed.
	DefaultStaleAfter = 10 * time.Minute

	staleTimeoutMessage = "processing timed out"
)

var (
	ErrSourceNotFound  = errors.New("knowledge source not found")
	ErrChatbotNotFound = errors.New("chatbot not found")

	// ErrTenantScope signals a programming error: a query produced a
	// chunk belonging to a different chatbot than requested.
	ErrTenantScope = errors.New("tenant scope violation")
)

func errCountMismatch(chunks, vectors int) error {
	return fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", chunks, vectors)
}

// applyStaleness rewrites a long-running processing status as failed.
// Detection is lazy, on read, so no background sweep is needed; a
// client polling status still observes the failure after the threshold.
func applyStaleness(src *models.KnowledgeSource, staleAfter time.Duration, now time.Time) {
	if src.Status != models.StatusProcessing {
		return
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now.Sub(src.UpdatedAt) > staleAfter {
		src.Status = models.StatusFailed
		src.Error = staleTimeoutMessage
	}
}
