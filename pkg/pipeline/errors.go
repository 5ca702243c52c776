package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent means chunking produced nothing to index.
	ErrEmptyContent = errors.New("content is empty or unreadable")

	// ErrUnknownChatbot is a caller error: indexing or querying against
	// a chatbot that does not exist.
	ErrUnknownChatbot = errors.New("unknown chatbot")
)

// EmbeddingError wraps a failure of the external embedding service,
// including a vector count that does not match the request.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding service unavailable: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// PersistenceError wraps a vector store failure that survived the retry
// budget.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
