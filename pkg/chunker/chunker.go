package chunker

import "strings"

type Config struct {
	Size    int // window length in characters
	Overlap int // characters shared between neighboring windows
}

// Chunker splits text into fixed-size windows with overlap so that
// context at a window boundary is not lost. Window i starts at
// i*(Size-Overlap) characters.
type Chunker struct {
	config Config
}

func NewWithConfig(config Config) Chunker {
	if config.Size == 0 {
		config.Size = 2500
	}
	if config.Overlap == 0 {
		config.Overlap = 300
	}
	if config.Overlap >= config.Size {
		config.Overlap = config.Size / 10
	}
	return Chunker{config: config}
}

func New() Chunker {
	return NewWithConfig(Config{})
}

// Split cuts text into overlapping windows. Empty or whitespace-only
// input yields no chunks; callers treat that as unindexable content.
func (c Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	stride := c.config.Size - c.config.Overlap

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + c.config.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
