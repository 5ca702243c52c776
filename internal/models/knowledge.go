package models

import "time"

type SourceType string

const (
	SourceTypeFile SourceType = "file"
	SourceTypeURL  SourceType = "url"
)

type SourceStatus string

const (
	StatusPending    SourceStatus = "pending"
	StatusProcessing SourceStatus = "processing"
	StatusReady      SourceStatus = "ready"
	StatusFailed     SourceStatus = "failed"
)

// MaxContentBytes caps the raw content stored for a single source.
const MaxContentBytes = 100_000

// Chatbot is the tenant boundary: every source and chunk belongs to
// exactly one chatbot, and retrieval never crosses chatbots.
type Chatbot struct {
	ID           string
	Name         string
	SystemPrompt string
	CreatedAt    time.Time
}

// KnowledgeSource is a user-supplied document or URL feeding a chatbot's
// knowledge base. Status moves pending -> processing -> ready|failed,
// with failed -> processing on an explicit retry.
type KnowledgeSource struct {
	ID        string
	ChatbotID string
	Type      SourceType
	Name      string
	URL       string
	Content   string
	Status    SourceStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KnowledgeChunk is one embedded fragment of a source. The chunk set for
// a source is always replaced as a whole, never patched in place.
type KnowledgeChunk struct {
	ID         string
	SourceID   string
	ChatbotID  string
	Content    string
	Embedding  []float32
	ChunkIndex int
	CreatedAt  time.Time
}

// CanTransition reports whether a source status change is legal.
func CanTransition(from, to SourceStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusReady || to == StatusFailed
	case StatusFailed:
		return to == StatusProcessing
	case StatusReady:
		// Re-indexing an already ready source starts over.
		return to == StatusProcessing
	}
	return false
}
